package syncer

import (
	"context"
	"sync"
	"time"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"go.uber.org/zap"
)

const maxRecentFailures = 50

// RemoteStore is the shared document store every terminal writes to
type RemoteStore interface {
	LoadSnapshot(ctx context.Context) (models.Snapshot, error)
	SeedProducts(ctx context.Context, products []models.Product) (int, error)
	SetStock(ctx context.Context, productID string, quantity int) error
	CreateSale(ctx context.Context, sale models.Sale, policy string) error
	UpdateSaleFlags(ctx context.Context, saleID string, patch models.SalePatch) error
	DeleteSale(ctx context.Context, saleID string) error
}

// ChangePublisher tells other terminals that a document changed
type ChangePublisher interface {
	PublishChange(ctx context.Context, eventType, collection, documentID string) error
}

// Op names a remote write
type Op string

const (
	OpCreateSale Op = "create_sale"
	OpUpdateSale Op = "update_sale"
	OpDeleteSale Op = "delete_sale"
	OpSetStock   Op = "set_stock"
)

// Job is one queued remote write
type Job struct {
	Op         Op
	Sale       models.Sale
	Patch      models.SalePatch
	Product    models.Product
	EnqueuedAt time.Time
}

// Key is the id of the document the job writes
func (j Job) Key() string {
	if j.Op == OpSetStock {
		return j.Product.ID
	}
	return j.Sale.ID
}

// Synchronizer queues local mutations for the remote store. Enqueueing never
// blocks; the queue is drained in order by a single write worker.
type Synchronizer struct {
	store     RemoteStore
	publisher ChangePublisher
	policy    string
	jobs      chan Job

	mu        sync.Mutex
	closed    bool
	failures  []SyncError
	callbacks []func(*SyncError)

	logger *zap.Logger
}

// NewSynchronizer creates a synchronizer. publisher may be nil.
func NewSynchronizer(store RemoteStore, publisher ChangePublisher, policy string, queueSize int) *Synchronizer {
	return &Synchronizer{
		store:     store,
		publisher: publisher,
		policy:    policy,
		jobs:      make(chan Job, queueSize),
		logger:    util.Named("syncer"),
	}
}

func (s *Synchronizer) SaleCreated(ctx context.Context, sale models.Sale) {
	s.enqueue(Job{Op: OpCreateSale, Sale: sale})
}

func (s *Synchronizer) SaleUpdated(ctx context.Context, sale models.Sale, patch models.SalePatch) {
	s.enqueue(Job{Op: OpUpdateSale, Sale: sale, Patch: patch})
}

func (s *Synchronizer) SaleDeleted(ctx context.Context, sale models.Sale) {
	s.enqueue(Job{Op: OpDeleteSale, Sale: sale})
}

func (s *Synchronizer) StockSet(ctx context.Context, product models.Product) {
	s.enqueue(Job{Op: OpSetStock, Product: product})
}

func (s *Synchronizer) enqueue(job Job) {
	job.EnqueuedAt = time.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.Report(&SyncError{Op: job.Op, Key: job.Key(), Err: ErrClosed})
		return
	}

	select {
	case s.jobs <- job:
		util.SyncQueueDepth.Set(float64(len(s.jobs)))
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.Report(&SyncError{Op: job.Op, Key: job.Key(), Err: ErrQueueFull})
	}
}

// Jobs is the queue the write worker drains. It is closed by Close.
func (s *Synchronizer) Jobs() <-chan Job {
	return s.jobs
}

// Close stops accepting jobs. Jobs already queued can still be drained.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.jobs)
	}
}

// Execute performs one remote write and announces it. A failed write is
// reported and returned, nothing is retried.
func (s *Synchronizer) Execute(ctx context.Context, job Job) error {
	ctx, span := util.StartSpan(ctx, "Synchronizer."+string(job.Op))
	defer span.End()

	util.SyncQueueDepth.Set(float64(len(s.jobs)))
	start := time.Now()
	err := s.write(ctx, job)
	util.SyncWriteLatency.WithLabelValues(string(job.Op)).Observe(time.Since(start).Seconds())

	if err != nil {
		util.RecordError(span, err)
		syncErr := &SyncError{Op: job.Op, Key: job.Key(), Err: err}
		s.Report(syncErr)
		return syncErr
	}

	util.SyncWritesTotal.WithLabelValues(string(job.Op)).Inc()
	s.logger.Debug("Remote write done",
		zap.String("op", string(job.Op)),
		zap.String("key", job.Key()),
		zap.Duration("queued", start.Sub(job.EnqueuedAt)))

	s.announce(ctx, job)
	return nil
}

func (s *Synchronizer) write(ctx context.Context, job Job) error {
	switch job.Op {
	case OpCreateSale:
		return s.store.CreateSale(ctx, job.Sale, s.policy)
	case OpUpdateSale:
		return s.store.UpdateSaleFlags(ctx, job.Sale.ID, job.Patch)
	case OpDeleteSale:
		return s.store.DeleteSale(ctx, job.Sale.ID)
	case OpSetStock:
		return s.store.SetStock(ctx, job.Product.ID, job.Product.Stock)
	}
	return nil
}

func (s *Synchronizer) announce(ctx context.Context, job Job) {
	if s.publisher == nil {
		return
	}

	var eventType, collection string
	switch job.Op {
	case OpCreateSale:
		eventType, collection = models.EventTypeSaleCreated, models.CollectionSales
	case OpUpdateSale:
		eventType, collection = models.EventTypeSaleUpdated, models.CollectionSales
	case OpDeleteSale:
		eventType, collection = models.EventTypeSaleDeleted, models.CollectionSales
	case OpSetStock:
		eventType, collection = models.EventTypeStockSet, models.CollectionProducts
	}

	// other terminals still catch up on their next poll
	if err := s.publisher.PublishChange(ctx, eventType, collection, job.Key()); err != nil {
		s.logger.Warn("Failed to publish change event",
			zap.String("op", string(job.Op)),
			zap.String("key", job.Key()),
			zap.Error(err))
	}
}

// Report records a sync failure: it is logged, counted, kept for
// RecentFailures and handed to every OnFailure callback.
func (s *Synchronizer) Report(err *SyncError) {
	if err.At.IsZero() {
		err.At = time.Now().UTC()
	}

	util.SyncFailuresTotal.WithLabelValues(string(err.Op)).Inc()
	s.logger.Error("Remote write failed, local change kept",
		zap.String("op", string(err.Op)),
		zap.String("key", err.Key),
		zap.Error(err.Err))

	s.mu.Lock()
	s.failures = append(s.failures, *err)
	if len(s.failures) > maxRecentFailures {
		s.failures = s.failures[len(s.failures)-maxRecentFailures:]
	}
	callbacks := make([]func(*SyncError), len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(err)
	}
}

// OnFailure registers a callback for sync failures
func (s *Synchronizer) OnFailure(cb func(*SyncError)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callbacks = append(s.callbacks, cb)
}

// RecentFailures returns the latest failures, newest last
func (s *Synchronizer) RecentFailures() []SyncError {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]SyncError(nil), s.failures...)
}
