package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	appconfig "repriceflow/config"
	"repriceflow/logger"
	"repriceflow/models"
)

// DynamoStore persists listing records in a DynamoDB table keyed by
// (asin, marketplace_id), matching the table the analytics consumer reads.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
	log    *logger.Log
}

// dynamoItem is the stored shape of a listing record. Prices are stored as
// decimal strings so the analytics consumer never sees float drift.
type dynamoItem struct {
	ASIN                        string  `dynamodbav:"asin"`
	MarketplaceID               string  `dynamodbav:"marketplace_id"`
	CurrentPrice                string  `dynamodbav:"current_price"`
	LastObservedCompetitorPrice *string `dynamodbav:"last_observed_competitor_price,omitempty"`
	LastDecisionAt              int64   `dynamodbav:"last_decision_at"`
	LastUpdateAttemptAt         *int64  `dynamodbav:"last_update_attempt_at,omitempty"`
	LastUpdateStatus            string  `dynamodbav:"last_update_status"`
	UpdateEpoch                 int64   `dynamodbav:"update_epoch"`
	RetailPrice                 *string `dynamodbav:"retail_price,omitempty"`
	MinPrice                    *string `dynamodbav:"min_price,omitempty"`
	MaxPrice                    *string `dynamodbav:"max_price,omitempty"`
}

// NewDynamoStore creates a store against the configured table. AWS settings
// follow the config-file credentials when present, the default chain
// otherwise.
func NewDynamoStore(ctx context.Context, cfg appconfig.DynamoDBConfig) (*DynamoStore, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	clientOpts := []func(*dynamodb.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	store := &DynamoStore{
		client: dynamodb.NewFromConfig(awsCfg, clientOpts...),
		table:  cfg.Table,
		log:    log,
	}

	log.WithComponent("listing_store").WithFields(logger.Fields{
		"table":  cfg.Table,
		"region": cfg.Region,
	}).Debug("dynamodb listing store initialized")

	return store, nil
}

func keyAttributes(key models.ListingKey) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"asin":           &ddbtypes.AttributeValueMemberS{Value: key.CatalogItemID},
		"marketplace_id": &ddbtypes.AttributeValueMemberS{Value: key.MarketplaceID},
	}
}

func toItem(rec models.ListingRecord) dynamoItem {
	item := dynamoItem{
		ASIN:             rec.Key.CatalogItemID,
		MarketplaceID:    rec.Key.MarketplaceID,
		CurrentPrice:     rec.CurrentPrice.String(),
		LastDecisionAt:   rec.LastDecisionAt.Unix(),
		LastUpdateStatus: string(rec.LastUpdateStatus),
		UpdateEpoch:      rec.UpdateEpoch,
	}
	if rec.LastObservedCompetitorPrice != nil {
		s := rec.LastObservedCompetitorPrice.String()
		item.LastObservedCompetitorPrice = &s
	}
	if rec.LastUpdateAttemptAt != nil {
		ts := rec.LastUpdateAttemptAt.Unix()
		item.LastUpdateAttemptAt = &ts
	}
	if rec.RetailPrice != nil {
		s := rec.RetailPrice.String()
		item.RetailPrice = &s
	}
	if rec.MinPrice != nil {
		s := rec.MinPrice.String()
		item.MinPrice = &s
	}
	if rec.MaxPrice != nil {
		s := rec.MaxPrice.String()
		item.MaxPrice = &s
	}
	return item
}

func parsePrice(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", *s, err)
	}
	return &d, nil
}

func fromItem(item dynamoItem) (*models.ListingRecord, error) {
	rec := &models.ListingRecord{
		Key: models.ListingKey{
			CatalogItemID: item.ASIN,
			MarketplaceID: item.MarketplaceID,
		},
		LastDecisionAt:   time.Unix(item.LastDecisionAt, 0).UTC(),
		LastUpdateStatus: models.UpdateStatus(item.LastUpdateStatus),
		UpdateEpoch:      item.UpdateEpoch,
	}
	if rec.LastUpdateStatus == "" {
		rec.LastUpdateStatus = models.UpdateStatusNone
	}
	if item.CurrentPrice != "" {
		price, err := decimal.NewFromString(item.CurrentPrice)
		if err != nil {
			return nil, fmt.Errorf("invalid stored current_price %q: %w", item.CurrentPrice, err)
		}
		rec.CurrentPrice = price
	}
	if item.LastUpdateAttemptAt != nil {
		ts := time.Unix(*item.LastUpdateAttemptAt, 0).UTC()
		rec.LastUpdateAttemptAt = &ts
	}
	var err error
	if rec.LastObservedCompetitorPrice, err = parsePrice(item.LastObservedCompetitorPrice); err != nil {
		return nil, err
	}
	if rec.RetailPrice, err = parsePrice(item.RetailPrice); err != nil {
		return nil, err
	}
	if rec.MinPrice, err = parsePrice(item.MinPrice); err != nil {
		return nil, err
	}
	if rec.MaxPrice, err = parsePrice(item.MaxPrice); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *DynamoStore) Get(ctx context.Context, key models.ListingKey) (*models.ListingRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, models.NewError(models.KindRetryable, "store.get", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, models.NewError(models.KindFatal, "store.get", err)
	}
	rec, err := fromItem(item)
	if err != nil {
		return nil, models.NewError(models.KindFatal, "store.get", err)
	}
	return rec, nil
}

func (s *DynamoStore) PutDecision(ctx context.Context, rec models.ListingRecord, expectedEpoch int64) error {
	item, err := attributevalue.MarshalMap(toItem(rec))
	if err != nil {
		return models.NewError(models.KindFatal, "store.put_decision", err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if expectedEpoch == 0 {
		// First accepted decision: the item may be absent, or present
		// without an epoch (seeded by the catalog sync).
		input.ConditionExpression = aws.String("attribute_not_exists(update_epoch) OR update_epoch = :expected")
	} else {
		input.ConditionExpression = aws.String("update_epoch = :expected")
	}
	input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
		":expected": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedEpoch)},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var conditionErr *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &conditionErr) {
			logger.IncrementEpochConflict()
			return models.NewError(models.KindConflict, "store.put_decision",
				fmt.Errorf("epoch %d already advanced for %s", expectedEpoch, rec.Key))
		}
		return models.NewError(models.KindRetryable, "store.put_decision", err)
	}

	logger.IncrementStoreWrite()
	return nil
}

func (s *DynamoStore) Touch(ctx context.Context, key models.ListingKey, decisionAt time.Time, attemptAt *time.Time) error {
	update := "SET last_decision_at = :decision"
	values := map[string]ddbtypes.AttributeValue{
		":decision": &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", decisionAt.Unix())},
	}
	if attemptAt != nil {
		update += ", last_update_attempt_at = :attempt"
		values[":attempt"] = &ddbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", attemptAt.Unix())}
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttributes(key),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return models.NewError(models.KindRetryable, "store.touch", err)
	}
	return nil
}

func (s *DynamoStore) PutCatalogItem(ctx context.Context, rec models.ListingRecord) error {
	update := "SET retail_price = :retail, min_price = :min, max_price = :max"
	values := map[string]ddbtypes.AttributeValue{
		":retail": priceAttribute(rec.RetailPrice),
		":min":    priceAttribute(rec.MinPrice),
		":max":    priceAttribute(rec.MaxPrice),
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttributes(rec.Key),
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return models.NewError(models.KindRetryable, "store.put_catalog_item", err)
	}

	logger.IncrementStoreWrite()
	return nil
}

func priceAttribute(p *decimal.Decimal) ddbtypes.AttributeValue {
	if p == nil {
		return &ddbtypes.AttributeValueMemberNULL{Value: true}
	}
	return &ddbtypes.AttributeValueMemberS{Value: p.String()}
}
