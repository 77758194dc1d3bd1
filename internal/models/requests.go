package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// SaleDraft is the input for creating a sale. Prices are taken from the
// catalog when the sale is created, never from the draft.
type SaleDraft struct {
	CustomerName   string           `json:"customerName"`
	Items          []StockLine      `json:"items"`
	IsReservation  bool             `json:"isReservation"`
	IsPaid         bool             `json:"isPaid"`
	IsPromotion    bool             `json:"isPromotion"`
	PromotionPrice *decimal.Decimal `json:"promotionPrice,omitempty"`
}

// SalePatch updates the mutable flags of a sale. Nil fields are left alone.
type SalePatch struct {
	IsPaid      *bool `json:"isPaid,omitempty"`
	IsCollected *bool `json:"isCollected,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p SalePatch) Empty() bool {
	return p.IsPaid == nil && p.IsCollected == nil
}

// ImmutableFieldError is returned when a patch tries to change a field other
// than the payment and collection flags.
type ImmutableFieldError struct {
	Fields []string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("fields cannot be updated: %s", strings.Join(e.Fields, ", "))
}

var patchableFields = map[string]bool{
	"isPaid":      true,
	"isCollected": true,
}

// UnmarshalJSON rejects any field that is not a mutable flag, so items,
// total and createdAt can never reach the journal through a patch.
func (p *SalePatch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var rejected []string
	for field := range raw {
		if !patchableFields[field] {
			rejected = append(rejected, field)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return &ImmutableFieldError{Fields: rejected}
	}

	type flags SalePatch
	var f flags
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*p = SalePatch(f)
	return nil
}

// SaleFilter selects which sales to list
type SaleFilter string

const (
	SaleFilterAll         SaleFilter = ""
	SaleFilterReservation SaleFilter = "reservation"
	SaleFilterWalkup      SaleFilter = "walkup"
)

// Match reports whether the sale passes the filter
func (f SaleFilter) Match(s Sale) bool {
	switch f {
	case SaleFilterReservation:
		return s.IsReservation
	case SaleFilterWalkup:
		return !s.IsReservation
	}
	return true
}
