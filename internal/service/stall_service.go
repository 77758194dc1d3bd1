package service

import (
	"context"
	"errors"
	"sync"

	"stall-service/internal/models"
	"stall-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Replicator propagates local mutations to the remote store. Implementations
// must not block: the local change is already applied and stays applied
// whatever happens remotely.
type Replicator interface {
	SaleCreated(ctx context.Context, sale models.Sale)
	SaleUpdated(ctx context.Context, sale models.Sale, patch models.SalePatch)
	SaleDeleted(ctx context.Context, sale models.Sale)
	StockSet(ctx context.Context, product models.Product)
}

// NopReplicator is used when the stall runs without a remote store
type NopReplicator struct{}

func (NopReplicator) SaleCreated(context.Context, models.Sale)                     {}
func (NopReplicator) SaleUpdated(context.Context, models.Sale, models.SalePatch) {}
func (NopReplicator) SaleDeleted(context.Context, models.Sale)                     {}
func (NopReplicator) StockSet(context.Context, models.Product)                     {}

// StallService is the entry point for the presentation layer. It owns the
// local ledger and journal and hands every change to the replicator.
type StallService struct {
	ledger     *Ledger
	journal    *Journal
	replicator Replicator
	logger     *zap.Logger

	// writeMu is held from a local mutation until its remote write is
	// queued, so the queue sees changes in the order they were applied
	writeMu sync.Mutex
}

// NewStallService creates a new stall service
func NewStallService(ledger *Ledger, journal *Journal, replicator Replicator) *StallService {
	if replicator == nil {
		replicator = NopReplicator{}
	}
	return &StallService{
		ledger:     ledger,
		journal:    journal,
		replicator: replicator,
		logger:     util.Named("stall"),
	}
}

// ListProducts returns products in catalog order
func (s *StallService) ListProducts(ctx context.Context) []models.Product {
	return s.ledger.Products()
}

// ListSales returns sales most recent first
func (s *StallService) ListSales(ctx context.Context, filter models.SaleFilter) []models.Sale {
	return s.journal.List(filter)
}

// GetSale returns one sale
func (s *StallService) GetSale(ctx context.Context, saleID string) (models.Sale, error) {
	sale, ok := s.journal.Get(saleID)
	if !ok {
		return models.Sale{}, ErrNotFound
	}
	return sale, nil
}

// SetStock records a counted stock level for one product
func (s *StallService) SetStock(ctx context.Context, productID string, quantity int) (models.Product, error) {
	ctx, span := util.StartSpan(ctx, "StallService.SetStock")
	defer span.End()

	var (
		change  models.StockChange
		product models.Product
	)
	err := s.mutate(func() error {
		var err error
		if change, err = s.ledger.SetStock(productID, quantity); err != nil {
			return err
		}
		product = s.productAt(change)
		s.replicator.StockSet(ctx, product)
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return models.Product{}, err
	}

	util.StockSetTotal.Inc()
	s.logger.Info("Stock set",
		zap.String("product_id", productID),
		zap.Int("previous", change.Previous),
		zap.Int("stock", change.Current))
	return product, nil
}

// SetStocks records several counted stock levels at once. Nothing is applied
// if any product is unknown.
func (s *StallService) SetStocks(ctx context.Context, entries []models.StockEntry) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "StallService.SetStocks")
	defer span.End()

	var products []models.Product
	err := s.mutate(func() error {
		changes, err := s.ledger.SetStocks(entries)
		if err != nil {
			return err
		}
		products = make([]models.Product, 0, len(changes))
		for _, change := range changes {
			product := s.productAt(change)
			products = append(products, product)
			s.replicator.StockSet(ctx, product)
		}
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.StockSetTotal.Add(float64(len(products)))
	s.logger.Info("Stock entries saved", zap.Int("count", len(products)))
	return products, nil
}

// CreateSale records a sale or reservation and takes its items out of stock
func (s *StallService) CreateSale(ctx context.Context, draft models.SaleDraft) (models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "StallService.CreateSale")
	defer span.End()

	var (
		sale    models.Sale
		changes []models.StockChange
	)
	err := s.mutate(func() error {
		var err error
		if sale, changes, err = s.journal.Create(draft); err != nil {
			return err
		}
		s.replicator.SaleCreated(ctx, sale)
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		util.SalesRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Warn("Sale rejected", zap.Error(err))
		return models.Sale{}, err
	}

	for _, change := range changes {
		if change.Clamped {
			s.logger.Warn("Sale exceeded stock, floored at zero",
				zap.String("sale_id", sale.ID),
				zap.String("product_id", change.ProductID),
				zap.Int("previous", change.Previous))
		}
	}

	util.SalesCreatedTotal.WithLabelValues(saleKind(sale)).Inc()
	s.logger.Info("Sale created",
		zap.String("sale_id", sale.ID),
		zap.Bool("reservation", sale.IsReservation),
		zap.String("total", sale.Total.String()),
		zap.Int("items", len(sale.Items)))
	return sale, nil
}

// UpdateSale changes the payment and collection flags of a sale
func (s *StallService) UpdateSale(ctx context.Context, saleID string, patch models.SalePatch) (models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "StallService.UpdateSale")
	defer span.End()

	if patch.Empty() {
		err := invalid("patch", "nothing to update")
		util.RecordError(span, err)
		return models.Sale{}, err
	}

	var sale models.Sale
	err := s.mutate(func() error {
		var err error
		if sale, err = s.journal.Update(saleID, patch); err != nil {
			return err
		}
		s.replicator.SaleUpdated(ctx, sale, patch)
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return models.Sale{}, err
	}

	util.SalesUpdatedTotal.Inc()
	s.logger.Info("Sale updated",
		zap.String("sale_id", sale.ID),
		zap.Bool("paid", sale.IsPaid),
		zap.Bool("collected", sale.IsCollected))
	return sale, nil
}

// MarkCollected flags a sale as collected. Calling it twice is harmless.
func (s *StallService) MarkCollected(ctx context.Context, saleID string) (models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "StallService.MarkCollected")
	defer span.End()

	var (
		sale    models.Sale
		changed bool
	)
	err := s.mutate(func() error {
		var err error
		if sale, changed, err = s.journal.MarkCollected(saleID); err != nil || !changed {
			return err
		}
		collected := true
		s.replicator.SaleUpdated(ctx, sale, models.SalePatch{IsCollected: &collected})
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return models.Sale{}, err
	}
	if !changed {
		return sale, nil
	}

	util.SalesUpdatedTotal.Inc()
	s.logger.Info("Sale collected", zap.String("sale_id", sale.ID))
	return sale, nil
}

// DeleteSale removes a sale and puts its items back into stock
func (s *StallService) DeleteSale(ctx context.Context, saleID string) error {
	ctx, span := util.StartSpan(ctx, "StallService.DeleteSale")
	defer span.End()

	var (
		sale    models.Sale
		skipped []models.StockLine
	)
	err := s.mutate(func() error {
		var err error
		if sale, _, skipped, err = s.journal.Delete(saleID); err != nil {
			return err
		}
		s.replicator.SaleDeleted(ctx, sale)
		return nil
	})
	if err != nil {
		util.RecordError(span, err)
		return err
	}

	for _, line := range skipped {
		s.logger.Warn("Product of deleted sale no longer exists, stock not restored",
			zap.String("sale_id", sale.ID),
			zap.String("product_id", line.ProductID),
			zap.Int("quantity", line.Quantity))
	}

	util.SalesDeletedTotal.Inc()
	s.logger.Info("Sale deleted", zap.String("sale_id", sale.ID))
	return nil
}

// TotalStock sums stock across products
func (s *StallService) TotalStock(ctx context.Context) int {
	return s.ledger.TotalStock()
}

// CanSell reports whether the new sale flow should be offered
func (s *StallService) CanSell(ctx context.Context) bool {
	return s.ledger.CanSell()
}

// ProductName resolves a product id for display, tolerating products that
// have since disappeared from the catalog.
func (s *StallService) ProductName(productID string) string {
	product, ok := s.ledger.Product(productID)
	if !ok {
		return models.ProductNotFoundName
	}
	return product.Name
}

// Totals computes the running totals of the day
func (s *StallService) Totals(ctx context.Context) models.Totals {
	totals := models.Totals{Revenue: decimal.Zero, UnitsInStock: s.ledger.TotalStock()}

	for _, sale := range s.journal.List(models.SaleFilterAll) {
		if sale.IsReservation {
			totals.Reservations++
		} else {
			totals.Sales++
		}
		if sale.IsReservation && !sale.IsCollected {
			totals.PendingCollection++
		}
		if !sale.IsPaid {
			totals.Unpaid++
		}
		totals.Revenue = totals.Revenue.Add(sale.EffectiveTotal())
	}
	return totals
}

// ApplySnapshot replaces local state with a remote snapshot. A local change
// that has not reached the remote store yet is overwritten.
func (s *StallService) ApplySnapshot(ctx context.Context, snapshot models.Snapshot) {
	_, span := util.StartSpan(ctx, "StallService.ApplySnapshot")
	defer span.End()

	s.journal.ReplaceAll(snapshot.Products, snapshot.Sales)
	s.logger.Debug("Snapshot applied",
		zap.Int("products", len(snapshot.Products)),
		zap.Int("sales", len(snapshot.Sales)))
}

// mutate applies a local change and queues its remote write under writeMu
func (s *StallService) mutate(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return fn()
}

// productAt returns the product carrying the stock recorded by change
func (s *StallService) productAt(change models.StockChange) models.Product {
	product, ok := s.ledger.Product(change.ProductID)
	if !ok {
		product = models.Product{ID: change.ProductID}
	}
	product.Stock = change.Current
	return product
}

func saleKind(sale models.Sale) string {
	if sale.IsReservation {
		return "reservation"
	}
	return "walkup"
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	}
	return "other"
}
