package worker

import (
	"context"
	"errors"
	"time"

	"stall-service/internal/broker"
	"stall-service/internal/syncer"
	"stall-service/internal/util"

	"go.uber.org/zap"
)

// WriteWorker drains the sync queue one job at a time, in order
type WriteWorker struct {
	synchronizer *syncer.Synchronizer
	writeTimeout time.Duration
	done         chan struct{}
	logger       *zap.Logger
}

// NewWriteWorker creates a new write worker
func NewWriteWorker(synchronizer *syncer.Synchronizer, writeTimeout time.Duration) *WriteWorker {
	return &WriteWorker{
		synchronizer: synchronizer,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
		logger:       util.Named("write-worker"),
	}
}

// Start runs until the queue is closed and drained
func (w *WriteWorker) Start() {
	defer close(w.done)
	w.logger.Info("Starting write worker...")

	for job := range w.synchronizer.Jobs() {
		// writes are not tied to a request, only to their own timeout
		ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
		_ = w.synchronizer.Execute(ctx, job)
		cancel()
	}

	w.logger.Info("Write worker stopped")
}

// Stop closes the queue and waits for queued writes until ctx expires
func (w *WriteWorker) Stop(ctx context.Context) error {
	w.logger.Info("Stopping write worker...")
	w.synchronizer.Close()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return errors.New("write queue not drained before shutdown")
	}
}

// SnapshotWorker keeps the local state fed with remote snapshots: once at
// start, on every change notification and on every poll tick.
type SnapshotWorker struct {
	subscription *syncer.Subscription
	consumer     *broker.Consumer
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewSnapshotWorker creates a new snapshot worker. consumer may be nil, the
// worker then relies on polling alone. pollInterval <= 0 disables polling.
func NewSnapshotWorker(subscription *syncer.Subscription, consumer *broker.Consumer, pollInterval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		subscription: subscription,
		consumer:     consumer,
		pollInterval: pollInterval,
		logger:       util.Named("snapshot-worker"),
	}
}

// Start runs until ctx is cancelled, then unsubscribes
func (w *SnapshotWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting snapshot worker...", zap.Duration("poll_interval", w.pollInterval))
	defer w.subscription.Unsubscribe()

	if w.consumer != nil {
		go func() {
			if err := w.consumer.StartConsuming(ctx, w.subscription.HandleMessage); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Change consumer stopped", zap.Error(err))
			}
		}()
	}

	// a non-positive interval leaves the change feed as the only trigger
	var tick <-chan time.Time
	if w.pollInterval > 0 {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			// failures are logged by the subscription and retried next tick
			_ = w.subscription.Reload(ctx, syncer.TriggerPoll)
		}
	}
}

// Stop stops the snapshot worker
func (w *SnapshotWorker) Stop() error {
	w.logger.Info("Stopping snapshot worker...")
	w.subscription.Unsubscribe()
	if w.consumer != nil {
		return w.consumer.Close()
	}
	return nil
}
