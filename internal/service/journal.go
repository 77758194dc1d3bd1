package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stall-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Journal keeps sales most-recent-first and moves stock through the Ledger
// in step with them. The journal lock is held across every pairing of a
// sale change with its stock change, and across snapshot replacement.
type Journal struct {
	mu     sync.RWMutex
	sales  []models.Sale
	ledger *Ledger
	now    func() time.Time
	newID  func() string
}

// NewJournal creates an empty journal bound to a ledger
func NewJournal(ledger *Ledger) *Journal {
	return &Journal{
		ledger: ledger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create validates the draft, snapshots current prices, reserves stock and
// records the sale. If the reservation fails no sale is recorded.
func (j *Journal) Create(draft models.SaleDraft) (models.Sale, []models.StockChange, error) {
	if err := validateDraft(draft); err != nil {
		return models.Sale{}, nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	items := make([]models.SaleItem, 0, len(draft.Items))
	total := decimal.Zero
	for _, line := range draft.Items {
		product, ok := j.ledger.Product(line.ProductID)
		if !ok {
			return models.Sale{}, nil, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
		}
		item := models.SaleItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Price:     product.Price,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}

	changes, err := j.ledger.Reserve(draft.Items)
	if err != nil {
		return models.Sale{}, nil, err
	}

	sale := models.Sale{
		ID:            j.newID(),
		CustomerName:  strings.TrimSpace(draft.CustomerName),
		Items:         items,
		Total:         total,
		IsReservation: draft.IsReservation,
		IsPaid:        draft.IsPaid,
		IsPromotion:   draft.IsPromotion,
		CreatedAt:     j.now().UTC().Truncate(time.Millisecond),
	}
	if draft.IsPromotion && draft.PromotionPrice != nil {
		price := *draft.PromotionPrice
		sale.PromotionPrice = &price
	}

	j.sales = append([]models.Sale{sale}, j.sales...)
	return sale.Clone(), changes, nil
}

// Update applies a flag patch to a sale
func (j *Journal) Update(saleID string, patch models.SalePatch) (models.Sale, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	i := j.find(saleID)
	if i < 0 {
		return models.Sale{}, fmt.Errorf("%w: %s", ErrNotFound, saleID)
	}

	if patch.IsPaid != nil {
		j.sales[i].IsPaid = *patch.IsPaid
	}
	if patch.IsCollected != nil {
		j.sales[i].IsCollected = *patch.IsCollected
	}
	return j.sales[i].Clone(), nil
}

// MarkCollected flags a sale as collected. changed is false when it already was.
func (j *Journal) MarkCollected(saleID string) (sale models.Sale, changed bool, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	i := j.find(saleID)
	if i < 0 {
		return models.Sale{}, false, fmt.Errorf("%w: %s", ErrNotFound, saleID)
	}

	if j.sales[i].IsCollected {
		return j.sales[i].Clone(), false, nil
	}
	j.sales[i].IsCollected = true
	return j.sales[i].Clone(), true, nil
}

// Delete removes a sale and returns its items to stock
func (j *Journal) Delete(saleID string) (models.Sale, []models.StockChange, []models.StockLine, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	i := j.find(saleID)
	if i < 0 {
		return models.Sale{}, nil, nil, fmt.Errorf("%w: %s", ErrNotFound, saleID)
	}

	sale := j.sales[i]
	changes, skipped := j.ledger.Release(sale.Lines())
	j.sales = append(j.sales[:i:i], j.sales[i+1:]...)
	return sale, changes, skipped, nil
}

// Get returns one sale
func (j *Journal) Get(saleID string) (models.Sale, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	i := j.find(saleID)
	if i < 0 {
		return models.Sale{}, false
	}
	return j.sales[i].Clone(), true
}

// List returns the sales matching filter, most recent first
func (j *Journal) List(filter models.SaleFilter) []models.Sale {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]models.Sale, 0, len(j.sales))
	for _, s := range j.sales {
		if filter.Match(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Len returns the number of recorded sales
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return len(j.sales)
}

// ReplaceAll swaps products and sales for a remote snapshot
func (j *Journal) ReplaceAll(products []models.Product, sales []models.Sale) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.ledger.Replace(products)

	replaced := make([]models.Sale, 0, len(sales))
	for _, s := range sales {
		replaced = append(replaced, s.Clone())
	}
	sort.SliceStable(replaced, func(a, b int) bool {
		return replaced[a].CreatedAt.After(replaced[b].CreatedAt)
	})
	j.sales = replaced
}

func (j *Journal) find(saleID string) int {
	for i := range j.sales {
		if j.sales[i].ID == saleID {
			return i
		}
	}
	return -1
}

func validateDraft(draft models.SaleDraft) error {
	if len(draft.Items) == 0 {
		return invalid("items", "a sale needs at least one item")
	}
	for _, line := range draft.Items {
		if line.ProductID == "" {
			return invalid("items", "product id is required")
		}
		if line.Quantity <= 0 {
			return invalid("items", fmt.Sprintf("quantity for product %s must be positive", line.ProductID))
		}
	}
	if draft.IsReservation && strings.TrimSpace(draft.CustomerName) == "" {
		return invalid("customerName", "a reservation needs a customer name")
	}
	if draft.PromotionPrice != nil && draft.PromotionPrice.IsNegative() {
		return invalid("promotionPrice", "must not be negative")
	}
	return nil
}
