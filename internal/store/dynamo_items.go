package store

import (
	"fmt"
	"time"

	"stall-service/internal/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// amount stores a decimal as a DynamoDB number
type amount decimal.Decimal

func (a amount) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return &types.AttributeValueMemberN{Value: decimal.Decimal(a).String()}, nil
}

func (a *amount) UnmarshalDynamoDBAttributeValue(av types.AttributeValue) error {
	var raw string
	switch v := av.(type) {
	case *types.AttributeValueMemberN:
		raw = v.Value
	case *types.AttributeValueMemberS:
		raw = v.Value
	case *types.AttributeValueMemberNULL:
		*a = amount(decimal.Zero)
		return nil
	default:
		return fmt.Errorf("unsupported amount attribute %T", av)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	*a = amount(d)
	return nil
}

type productItem struct {
	ID    string `dynamodbav:"id"`
	Name  string `dynamodbav:"name"`
	Price amount `dynamodbav:"price"`
	Stock int    `dynamodbav:"stock"`
}

type saleLineItem struct {
	ProductID string `dynamodbav:"productId"`
	Quantity  int    `dynamodbav:"quantity"`
	Price     amount `dynamodbav:"price"`
}

type saleItem struct {
	ID             string         `dynamodbav:"id"`
	CustomerName   string         `dynamodbav:"customerName,omitempty"`
	Items          []saleLineItem `dynamodbav:"items"`
	Total          amount         `dynamodbav:"total"`
	IsReservation  bool           `dynamodbav:"isReservation"`
	IsPaid         bool           `dynamodbav:"isPaid"`
	IsCollected    bool           `dynamodbav:"isCollected"`
	IsPromotion    bool           `dynamodbav:"isPromotion"`
	PromotionPrice *amount        `dynamodbav:"promotionPrice,omitempty"`
	CreatedAt      int64          `dynamodbav:"createdAt"`
}

func marshalProduct(p models.Product) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(productItem{
		ID:    p.ID,
		Name:  p.Name,
		Price: amount(p.Price),
		Stock: p.Stock,
	})
}

func unmarshalProducts(items []map[string]types.AttributeValue) ([]models.Product, error) {
	var records []productItem
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal products: %w", err)
	}

	products := make([]models.Product, 0, len(records))
	for _, r := range records {
		products = append(products, models.Product{
			ID:    r.ID,
			Name:  r.Name,
			Price: decimal.Decimal(r.Price),
			Stock: r.Stock,
		})
	}
	return products, nil
}

func marshalSale(s models.Sale) (map[string]types.AttributeValue, error) {
	record := saleItem{
		ID:            s.ID,
		CustomerName:  s.CustomerName,
		Items:         make([]saleLineItem, 0, len(s.Items)),
		Total:         amount(s.Total),
		IsReservation: s.IsReservation,
		IsPaid:        s.IsPaid,
		IsCollected:   s.IsCollected,
		IsPromotion:   s.IsPromotion,
		CreatedAt:     s.CreatedAt.UnixMilli(),
	}
	for _, item := range s.Items {
		record.Items = append(record.Items, saleLineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     amount(item.Price),
		})
	}
	if s.PromotionPrice != nil {
		price := amount(*s.PromotionPrice)
		record.PromotionPrice = &price
	}
	return attributevalue.MarshalMap(record)
}

func unmarshalSale(av map[string]types.AttributeValue) (models.Sale, error) {
	var record saleItem
	if err := attributevalue.UnmarshalMap(av, &record); err != nil {
		return models.Sale{}, fmt.Errorf("failed to unmarshal sale: %w", err)
	}
	return record.toSale(), nil
}

func unmarshalSales(items []map[string]types.AttributeValue) ([]models.Sale, error) {
	var records []saleItem
	if err := attributevalue.UnmarshalListOfMaps(items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sales: %w", err)
	}

	sales := make([]models.Sale, 0, len(records))
	for _, r := range records {
		sales = append(sales, r.toSale())
	}
	return sales, nil
}

func (r saleItem) toSale() models.Sale {
	sale := models.Sale{
		ID:            r.ID,
		CustomerName:  r.CustomerName,
		Items:         make([]models.SaleItem, 0, len(r.Items)),
		Total:         decimal.Decimal(r.Total),
		IsReservation: r.IsReservation,
		IsPaid:        r.IsPaid,
		IsCollected:   r.IsCollected,
		IsPromotion:   r.IsPromotion,
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
	}
	for _, item := range r.Items {
		sale.Items = append(sale.Items, models.SaleItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     decimal.Decimal(item.Price),
		})
	}
	if r.PromotionPrice != nil {
		price := decimal.Decimal(*r.PromotionPrice)
		sale.PromotionPrice = &price
	}
	return sale
}
