package syncer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSync matches every remote write failure
	ErrSync      = errors.New("remote sync failed")
	ErrQueueFull = errors.New("sync queue full")
	ErrClosed    = errors.New("synchronizer closed")
)

// SyncError is a remote write that did not happen. The local change it
// belongs to stays applied.
type SyncError struct {
	Op  Op        `json:"op"`
	Key string    `json:"key"`
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *SyncError) Unwrap() []error {
	return []error{ErrSync, e.Err}
}

// Message is the cause as shown to the operator
func (e *SyncError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
