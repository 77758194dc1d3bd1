package models

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item and its current stock
type Product struct {
	ID    string          `db:"id" json:"id"`
	Name  string          `db:"name" json:"name"`
	Price decimal.Decimal `db:"price" json:"price"`
	Stock int             `db:"stock" json:"stock"`
}

// SaleItem is one line of a sale. Price is the product price captured when the sale was made.
type SaleItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Subtotal returns price * quantity
func (i SaleItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Sale represents a walk-up sale or a reservation
type Sale struct {
	ID             string           `json:"id"`
	CustomerName   string           `json:"customerName,omitempty"`
	Items          []SaleItem       `json:"items"`
	Total          decimal.Decimal  `json:"total"`
	IsReservation  bool             `json:"isReservation"`
	IsPaid         bool             `json:"isPaid"`
	IsCollected    bool             `json:"isCollected"`
	IsPromotion    bool             `json:"isPromotion"`
	PromotionPrice *decimal.Decimal `json:"promotionPrice,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// EffectiveTotal is the amount charged: the promotion price when the sale is a
// promotion and one was given, the item total otherwise.
func (s Sale) EffectiveTotal() decimal.Decimal {
	if s.IsPromotion && s.PromotionPrice != nil {
		return *s.PromotionPrice
	}
	return s.Total
}

// Lines returns the stock movements implied by the sale items
func (s Sale) Lines() []StockLine {
	lines := make([]StockLine, 0, len(s.Items))
	for _, item := range s.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// Clone returns a deep copy so callers cannot alias journal state
func (s Sale) Clone() Sale {
	c := s
	c.Items = append([]SaleItem(nil), s.Items...)
	if s.PromotionPrice != nil {
		p := *s.PromotionPrice
		c.PromotionPrice = &p
	}
	return c
}

// StockLine is a quantity of one product moving in or out of stock
type StockLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// AggregateLines sums quantities per product, keeping first-seen order
func AggregateLines(lines []StockLine) []StockLine {
	index := make(map[string]int, len(lines))
	out := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}

// StockEntry is a stock count typed in at the stall
type StockEntry struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
}

// StockChange records the effect of a ledger operation on one product
type StockChange struct {
	ProductID string `json:"productId"`
	Previous  int    `json:"previous"`
	Current   int    `json:"current"`
	Clamped   bool   `json:"clamped,omitempty"`
}

// Totals are the running figures shown at the stall
type Totals struct {
	Sales             int             `json:"sales"`
	Reservations      int             `json:"reservations"`
	PendingCollection int             `json:"pendingCollection"`
	Unpaid            int             `json:"unpaid"`
	Revenue           decimal.Decimal `json:"revenue"`
	UnitsInStock      int             `json:"unitsInStock"`
}

// Snapshot is a full copy of the remote collections
type Snapshot struct {
	Products []Product `json:"products"`
	Sales    []Sale    `json:"sales"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Oversell policies
const (
	OversellClamp  = "clamp"
	OversellReject = "reject"
)

// ProductNotFoundName is shown for sale items whose product no longer exists
const ProductNotFoundName = "product not found"

// LessProductID orders ids numerically when both are integers, lexically otherwise
func LessProductID(a, b string) bool {
	ai, errA := strconv.Atoi(a)
	bi, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return ai < bi
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// DefaultCatalog returns the products seeded on first run
func DefaultCatalog() []Product {
	return []Product{
		{ID: "1", Name: "Frango", Price: decimal.NewFromInt(50)},
		{ID: "2", Name: "Sobrecoxa", Price: decimal.NewFromInt(5)},
		{ID: "3", Name: "Linguiça", Price: decimal.NewFromInt(4)},
		{ID: "4", Name: "Carne", Price: decimal.NewFromInt(60)},
		{ID: "5", Name: "Costela", Price: decimal.NewFromInt(55)},
		{ID: "6", Name: "Maionese", Price: decimal.NewFromInt(7)},
	}
}
