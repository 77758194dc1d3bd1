package syncer

import (
	"context"
	"fmt"
	"sync"

	"stall-service/internal/broker"
	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reload triggers
const (
	TriggerInitial = "initial"
	TriggerEvent   = "event"
	TriggerPoll    = "poll"
)

// SnapshotLoader reads a full copy of the remote collections
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (models.Snapshot, error)
}

// SnapshotSink receives snapshots. The latest snapshot replaces local state.
type SnapshotSink interface {
	ApplySnapshot(ctx context.Context, snapshot models.Snapshot)
}

// Subscription feeds remote snapshots to a sink until it is unsubscribed
type Subscription struct {
	loader SnapshotLoader
	sink   SnapshotSink

	// reloadMu keeps an older load from being delivered after a newer one
	reloadMu sync.Mutex
	mu       sync.Mutex
	active   bool

	logger *zap.Logger
}

// Subscribe starts a subscription. Nothing is delivered until the first Reload.
func Subscribe(loader SnapshotLoader, sink SnapshotSink) *Subscription {
	return &Subscription{
		loader: loader,
		sink:   sink,
		active: true,
		logger: util.Named("subscription"),
	}
}

// Reload loads a snapshot and delivers it
func (s *Subscription) Reload(ctx context.Context, trigger string) error {
	if !s.Active() {
		return nil
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	ctx, span := util.StartSpan(ctx, "Subscription.Reload")
	defer span.End()

	snapshot, err := s.loader.LoadSnapshot(ctx)
	if err != nil {
		util.RecordError(span, err)
		s.logger.Warn("Failed to load snapshot", zap.String("trigger", trigger), zap.Error(err))
		return fmt.Errorf("failed to load snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}
	s.sink.ApplySnapshot(ctx, snapshot)
	util.SnapshotsAppliedTotal.WithLabelValues(trigger).Inc()
	return nil
}

// HandleMessage reloads on every valid change notification
func (s *Subscription) HandleMessage(ctx context.Context, msg kafka.Message) error {
	event, err := broker.DecodeChange(msg)
	if err != nil {
		return err
	}

	s.logger.Debug("Change notification",
		zap.String("type", event.EventType),
		zap.String("document_id", event.DocumentID),
		zap.String("origin", event.Origin))

	return s.Reload(ctx, TriggerEvent)
}

// Unsubscribe stops deliveries. It waits for a delivery in progress, no
// snapshot reaches the sink after it returns.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = false
}

// Active reports whether the subscription still delivers
func (s *Subscription) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}
