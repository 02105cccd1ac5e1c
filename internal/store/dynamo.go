package store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dailystory/internal/domain"
)

type itemPutter interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoSink stores records as items keyed by id. The table must exist.
type DynamoSink struct {
	db        itemPutter
	tableName string
}

// NewDynamoSink loads the default AWS config for region. A non-empty
// endpoint points the client at a local DynamoDB.
func NewDynamoSink(ctx context.Context, region, table, endpoint string) (*DynamoSink, error) {
	if table == "" {
		return nil, fmt.Errorf("DYNAMO_TABLE is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &DynamoSink{db: client, tableName: table}, nil
}

func (s *DynamoSink) AppendRecord(ctx context.Context, rec domain.GenerationRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	item["date"] = &types.AttributeValueMemberS{Value: rec.Date()}

	_, err = s.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("store: put record: %w", err)
	}
	return nil
}
