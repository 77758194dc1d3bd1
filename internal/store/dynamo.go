package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stall-service/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// clamp writes read the current stock and set it conditionally, so a
// concurrent writer makes the transaction fail and it is tried again
const maxClampAttempts = 3

// DynamoAPI is the part of the DynamoDB client the store uses
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore keeps products and sales in two DynamoDB tables keyed by id
type DynamoStore struct {
	client        DynamoAPI
	productsTable string
	salesTable    string
}

// NewDynamoDBClient builds a client for the region. A non-empty endpoint
// points it at DynamoDB Local with static credentials.
func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewDynamoStore creates a store over the given tables
func NewDynamoStore(client DynamoAPI, productsTable, salesTable string) *DynamoStore {
	return &DynamoStore{
		client:        client,
		productsTable: productsTable,
		salesTable:    salesTable,
	}
}

// Migrate creates the tables when they do not exist
func (s *DynamoStore) Migrate(ctx context.Context) error {
	for _, table := range []string{s.productsTable, s.salesTable} {
		_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(table),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}
	return nil
}

func (s *DynamoStore) Close() error {
	return nil
}

// Ping checks the products table is reachable
func (s *DynamoStore) Ping(ctx context.Context) error {
	_, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.productsTable),
		Limit:     aws.Int32(1),
	})
	return err
}

// LoadSnapshot scans both tables. DynamoDB has no cross-table read
// snapshot, the two scans are consistent reads taken one after the other.
func (s *DynamoStore) LoadSnapshot(ctx context.Context) (models.Snapshot, error) {
	productItems, err := s.scanAll(ctx, s.productsTable)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load products: %w", err)
	}
	products, err := unmarshalProducts(productItems)
	if err != nil {
		return models.Snapshot{}, err
	}

	saleRecords, err := s.scanAll(ctx, s.salesTable)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to load sales: %w", err)
	}
	sales, err := unmarshalSales(saleRecords)
	if err != nil {
		return models.Snapshot{}, err
	}

	return models.Snapshot{Products: products, Sales: sales, LoadedAt: time.Now().UTC()}, nil
}

func (s *DynamoStore) scanAll(ctx context.Context, table string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// SeedProducts inserts the products that do not exist yet and returns how many were added
func (s *DynamoStore) SeedProducts(ctx context.Context, products []models.Product) (int, error) {
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, p := range products {
		av, err := marshalProduct(p)
		if err != nil {
			return inserted, fmt.Errorf("failed to marshal product: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                aws.String(s.productsTable),
			Item:                     av,
			ConditionExpression:      cond.Condition(),
			ExpressionAttributeNames: cond.Names(),
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("failed to seed product %s: %w", p.ID, err)
		}
		inserted++
	}
	return inserted, nil
}

// SetStock overwrites the stock of one product
func (s *DynamoStore) SetStock(ctx context.Context, productID string, quantity int) error {
	if quantity < 0 {
		quantity = 0
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("stock"), expression.Value(quantity))).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.productsTable),
		Key:                       idKey(productID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return err
}

// CreateSale puts the sale and updates every product it touches in one
// TransactWriteItems call. Replaying a sale that already exists is a no-op.
func (s *DynamoStore) CreateSale(ctx context.Context, sale models.Sale, policy string) error {
	lines := models.AggregateLines(sale.Lines())

	var err error
	for attempt := 0; attempt < maxClampAttempts; attempt++ {
		var retry bool
		retry, err = s.createSaleOnce(ctx, sale, lines, policy)
		if !retry {
			return err
		}
	}
	return err
}

func (s *DynamoStore) createSaleOnce(ctx context.Context, sale models.Sale, lines []models.StockLine, policy string) (retry bool, err error) {
	av, err := marshalSale(sale)
	if err != nil {
		return false, err
	}

	put, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return false, err
	}

	items := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:                aws.String(s.salesTable),
			Item:                     av,
			ConditionExpression:      put.Condition(),
			ExpressionAttributeNames: put.Names(),
		},
	}}

	for _, line := range lines {
		var update *types.Update
		if policy == models.OversellReject {
			update, err = s.decrementUpdate(line)
		} else {
			update, err = s.clampUpdate(ctx, line)
		}
		if err != nil {
			return false, err
		}
		items = append(items, types.TransactWriteItem{Update: update})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return false, nil
	}

	var canceled *types.TransactionCanceledException
	if !errors.As(err, &canceled) {
		return false, fmt.Errorf("failed to write sale: %w", err)
	}

	for i, reason := range canceled.CancellationReasons {
		if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
			continue
		}
		if i == 0 {
			// already written by an earlier attempt
			return false, nil
		}
		line := lines[i-1]
		if reason.Item == nil {
			return false, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if policy == models.OversellReject {
			return false, fmt.Errorf("%w: product %s, requested %d", ErrInsufficientStock, line.ProductID, line.Quantity)
		}
		return true, fmt.Errorf("stock of product %s changed during write", line.ProductID)
	}
	return false, fmt.Errorf("failed to write sale: %w", err)
}

func (s *DynamoStore) decrementUpdate(line models.StockLine) (*types.Update, error) {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(
			expression.Name("stock"),
			expression.Minus(expression.Name("stock"), expression.Value(line.Quantity)),
		)).
		WithCondition(expression.AttributeExists(expression.Name("id")).And(
			expression.GreaterThanEqual(expression.Name("stock"), expression.Value(line.Quantity)),
		)).
		Build()
	if err != nil {
		return nil, err
	}
	return s.productUpdate(line.ProductID, expr), nil
}

func (s *DynamoStore) clampUpdate(ctx context.Context, line models.StockLine) (*types.Update, error) {
	current, err := s.readStock(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}

	next := current - line.Quantity
	if next < 0 {
		next = 0
	}

	expr, err := expression.NewBuilder().
		WithUpdate(expression.Set(expression.Name("stock"), expression.Value(next))).
		WithCondition(expression.AttributeExists(expression.Name("id")).And(
			expression.Equal(expression.Name("stock"), expression.Value(current)),
		)).
		Build()
	if err != nil {
		return nil, err
	}
	return s.productUpdate(line.ProductID, expr), nil
}

func (s *DynamoStore) productUpdate(productID string, expr expression.Expression) *types.Update {
	return &types.Update{
		TableName:                           aws.String(s.productsTable),
		Key:                                 idKey(productID),
		UpdateExpression:                    expr.Update(),
		ConditionExpression:                 expr.Condition(),
		ExpressionAttributeNames:            expr.Names(),
		ExpressionAttributeValues:           expr.Values(),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}
}

func (s *DynamoStore) readStock(ctx context.Context, productID string) (int, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.productsTable),
		Key:            idKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read product: %w", err)
	}
	if out.Item == nil {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	products, err := unmarshalProducts([]map[string]types.AttributeValue{out.Item})
	if err != nil {
		return 0, err
	}
	return products[0].Stock, nil
}

// UpdateSaleFlags sets the payment and collection flags present in the patch
func (s *DynamoStore) UpdateSaleFlags(ctx context.Context, saleID string, patch models.SalePatch) error {
	if patch.Empty() {
		return nil
	}

	var update expression.UpdateBuilder
	if patch.IsPaid != nil {
		update = update.Set(expression.Name("isPaid"), expression.Value(*patch.IsPaid))
	}
	if patch.IsCollected != nil {
		update = update.Set(expression.Name("isCollected"), expression.Value(*patch.IsCollected))
	}

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return err
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.salesTable),
		Key:                       idKey(saleID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	return err
}

// DeleteSale removes the sale and returns its items to stock in one
// transaction. The delete is conditional on the sale still existing, so a
// second delete releases nothing.
func (s *DynamoStore) DeleteSale(ctx context.Context, saleID string) error {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.salesTable),
		Key:            idKey(saleID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to read sale: %w", err)
	}
	if out.Item == nil {
		return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	sale, err := unmarshalSale(out.Item)
	if err != nil {
		return err
	}

	exists, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return err
	}

	items := []types.TransactWriteItem{{
		Delete: &types.Delete{
			TableName:                aws.String(s.salesTable),
			Key:                      idKey(saleID),
			ConditionExpression:      exists.Condition(),
			ExpressionAttributeNames: exists.Names(),
		},
	}}

	for _, line := range models.AggregateLines(sale.Lines()) {
		if _, err := s.readStock(ctx, line.ProductID); errors.Is(err, ErrProductNotFound) {
			// products removed since the sale are skipped
			continue
		} else if err != nil {
			return err
		}

		expr, err := expression.NewBuilder().
			WithUpdate(expression.Set(
				expression.Name("stock"),
				expression.Plus(expression.Name("stock"), expression.Value(line.Quantity)),
			)).
			WithCondition(expression.AttributeExists(expression.Name("id"))).
			Build()
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{Update: s.productUpdate(line.ProductID, expr)})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err == nil {
		return nil
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && len(canceled.CancellationReasons) > 0 &&
		aws.ToString(canceled.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
		return fmt.Errorf("%w: %s", ErrSaleNotFound, saleID)
	}
	return fmt.Errorf("failed to delete sale: %w", err)
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}
