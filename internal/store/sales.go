package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stall-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const saleColumns = `id, customer_name, items, total, is_reservation, is_paid, is_collected,
	is_promotion, promotion_price, created_at`

// saleItems is stored as a JSONB array
type saleItems []models.SaleItem

func (i saleItems) Value() (driver.Value, error) {
	if i == nil {
		return "[]", nil
	}
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (i *saleItems) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, i)
	case string:
		return json.Unmarshal([]byte(v), i)
	case nil:
		*i = nil
		return nil
	}
	return fmt.Errorf("unsupported items column type %T", src)
}

type saleRow struct {
	ID             string              `db:"id"`
	CustomerName   string              `db:"customer_name"`
	Items          saleItems           `db:"items"`
	Total          decimal.Decimal     `db:"total"`
	IsReservation  bool                `db:"is_reservation"`
	IsPaid         bool                `db:"is_paid"`
	IsCollected    bool                `db:"is_collected"`
	IsPromotion    bool                `db:"is_promotion"`
	PromotionPrice decimal.NullDecimal `db:"promotion_price"`
	CreatedAt      int64               `db:"created_at"`
}

func newSaleRow(s models.Sale) saleRow {
	row := saleRow{
		ID:            s.ID,
		CustomerName:  s.CustomerName,
		Items:         saleItems(s.Items),
		Total:         s.Total,
		IsReservation: s.IsReservation,
		IsPaid:        s.IsPaid,
		IsCollected:   s.IsCollected,
		IsPromotion:   s.IsPromotion,
		CreatedAt:     s.CreatedAt.UnixMilli(),
	}
	if s.PromotionPrice != nil {
		row.PromotionPrice = decimal.NewNullDecimal(*s.PromotionPrice)
	}
	return row
}

func (r saleRow) toSale() models.Sale {
	sale := models.Sale{
		ID:            r.ID,
		CustomerName:  r.CustomerName,
		Items:         []models.SaleItem(r.Items),
		Total:         r.Total,
		IsReservation: r.IsReservation,
		IsPaid:        r.IsPaid,
		IsCollected:   r.IsCollected,
		IsPromotion:   r.IsPromotion,
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
	}
	if r.PromotionPrice.Valid {
		price := r.PromotionPrice.Decimal
		sale.PromotionPrice = &price
	}
	return sale
}

// CreateSale writes a sale and takes its items out of stock in one transaction.
// Replaying a sale that already exists is a no-op. With the reject policy a
// product without enough stock aborts the whole transaction.
func (s *Store) CreateSale(ctx context.Context, sale models.Sale, policy string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO sales (id, customer_name, items, total, is_reservation, is_paid, is_collected,
			is_promotion, promotion_price, created_at)
		VALUES (:id, :customer_name, :items, :total, :is_reservation, :is_paid, :is_collected,
			:is_promotion, :promotion_price, :created_at)
		ON CONFLICT (id) DO NOTHING`, newSaleRow(sale))
	if err != nil {
		return fmt.Errorf("failed to insert sale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	for _, line := range models.AggregateLines(sale.Lines()) {
		if err := takeStockTx(ctx, tx, line, policy); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func takeStockTx(ctx context.Context, tx *sqlx.Tx, line models.StockLine, policy string) error {
	query := "UPDATE products SET stock = GREATEST(stock - $1, 0) WHERE id = $2"
	if policy == models.OversellReject {
		query = "UPDATE products SET stock = stock - $1 WHERE id = $2 AND stock >= $1"
	}

	res, err := tx.ExecContext(ctx, query, line.Quantity, line.ProductID)
	if err != nil {
		return fmt.Errorf("failed to take stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var available int
	err = tx.GetContext(ctx, &available, "SELECT stock FROM products WHERE id = $1", line.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: product %s available %d, requested %d",
		ErrInsufficientStock, line.ProductID, available, line.Quantity)
}

// UpdateSaleFlags sets the payment and collection flags present in the patch
func (s *Store) UpdateSaleFlags(ctx context.Context, saleID string, patch models.SalePatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sales
		SET is_paid = COALESCE($1::boolean, is_paid),
			is_collected = COALESCE($2::boolean, is_collected)
		WHERE id = $3`,
		patch.IsPaid, patch.IsCollected, saleID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	return nil
}

// DeleteSale removes a sale and puts its items back into stock in one
// transaction. A sale that is already gone releases nothing.
func (s *Store) DeleteSale(ctx context.Context, saleID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var items saleItems
	err = tx.GetContext(ctx, &items, "DELETE FROM sales WHERE id = $1 RETURNING items", saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete sale: %w", err)
	}

	sale := models.Sale{Items: items}
	for _, line := range models.AggregateLines(sale.Lines()) {
		// products removed since the sale are skipped
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1 WHERE id = $2",
			line.Quantity, line.ProductID); err != nil {
			return fmt.Errorf("failed to release stock: %w", err)
		}
	}

	return tx.Commit()
}
