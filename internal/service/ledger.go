package service

import (
	"fmt"
	"sort"
	"sync"

	"stall-service/internal/models"
	"stall-service/internal/util"
)

// Ledger holds the stock count of every product. Stock never goes below zero.
type Ledger struct {
	mu       sync.RWMutex
	products []models.Product
	index    map[string]int
	reject   bool
}

// NewLedger creates a ledger seeded with the given products. With the reject
// policy Reserve refuses to oversell, otherwise it floors stock at zero.
func NewLedger(policy string, products []models.Product) *Ledger {
	l := &Ledger{reject: policy == models.OversellReject}
	l.replace(products)
	return l
}

// Policy returns the oversell policy in force
func (l *Ledger) Policy() string {
	if l.reject {
		return models.OversellReject
	}
	return models.OversellClamp
}

// Products returns a copy of all products in catalog order
func (l *Ledger) Products() []models.Product {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]models.Product(nil), l.products...)
}

// Product looks up one product
func (l *Ledger) Product(productID string) (models.Product, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	i, ok := l.index[productID]
	if !ok {
		return models.Product{}, false
	}
	return l.products[i], true
}

// SetStock replaces the stock of a product. Negative quantities are stored as zero.
func (l *Ledger) SetStock(productID string, quantity int) (models.StockChange, error) {
	if quantity < 0 {
		quantity = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[productID]
	if !ok {
		return models.StockChange{}, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	change := models.StockChange{ProductID: productID, Previous: l.products[i].Stock, Current: quantity}
	l.products[i].Stock = quantity
	return change, nil
}

// SetStocks applies several stock entries. If any product is unknown nothing is changed.
func (l *Ledger) SetStocks(entries []models.StockEntry) ([]models.StockChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range entries {
		if _, ok := l.index[entry.ProductID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, entry.ProductID)
		}
	}

	changes := make([]models.StockChange, 0, len(entries))
	for _, entry := range entries {
		quantity := entry.Quantity
		if quantity < 0 {
			quantity = 0
		}
		i := l.index[entry.ProductID]
		changes = append(changes, models.StockChange{
			ProductID: entry.ProductID,
			Previous:  l.products[i].Stock,
			Current:   quantity,
		})
		l.products[i].Stock = quantity
	}
	return changes, nil
}

// Reserve takes the given quantities out of stock. It is all-or-nothing: an
// unknown product, or a shortfall under the reject policy, leaves every
// product untouched.
func (l *Ledger) Reserve(lines []models.StockLine) ([]models.StockChange, error) {
	aggregated := models.AggregateLines(lines)

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range aggregated {
		i, ok := l.index[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
		}
		if l.reject && l.products[i].Stock < line.Quantity {
			return nil, fmt.Errorf("%w: product %s available %d, requested %d",
				ErrInsufficientStock, line.ProductID, l.products[i].Stock, line.Quantity)
		}
	}

	changes := make([]models.StockChange, 0, len(aggregated))
	for _, line := range aggregated {
		i := l.index[line.ProductID]
		previous := l.products[i].Stock
		current := previous - line.Quantity
		clamped := current < 0
		if clamped {
			current = 0
			util.StockClampedTotal.WithLabelValues(line.ProductID).Inc()
		}
		l.products[i].Stock = current
		changes = append(changes, models.StockChange{
			ProductID: line.ProductID,
			Previous:  previous,
			Current:   current,
			Clamped:   clamped,
		})
	}
	return changes, nil
}

// Release puts quantities back into stock. There is no upper bound. Lines for
// products that no longer exist are skipped and returned.
func (l *Ledger) Release(lines []models.StockLine) (changes []models.StockChange, skipped []models.StockLine) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, line := range models.AggregateLines(lines) {
		i, ok := l.index[line.ProductID]
		if !ok {
			skipped = append(skipped, line)
			continue
		}
		previous := l.products[i].Stock
		l.products[i].Stock = previous + line.Quantity
		changes = append(changes, models.StockChange{
			ProductID: line.ProductID,
			Previous:  previous,
			Current:   l.products[i].Stock,
		})
	}
	return changes, skipped
}

// TotalStock sums stock over all products
func (l *Ledger) TotalStock() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, p := range l.products {
		total += p.Stock
	}
	return total
}

// CanSell reports whether anything is left to sell
func (l *Ledger) CanSell() bool {
	return l.TotalStock() > 0
}

// Replace swaps the whole product collection for a snapshot
func (l *Ledger) Replace(products []models.Product) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.replace(products)
}

func (l *Ledger) replace(products []models.Product) {
	sorted := append([]models.Product(nil), products...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return models.LessProductID(sorted[i].ID, sorted[j].ID)
	})

	l.products = sorted
	l.index = make(map[string]int, len(sorted))
	for i := range l.products {
		if l.products[i].Stock < 0 {
			l.products[i].Stock = 0
		}
		l.index[l.products[i].ID] = i
	}
}
