package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBUpdater is the part of *dynamodb.Client a DynamoDBCounter needs.
type DynamoDBUpdater interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBCounter implements Counter with an atomic ADD on a numeric
// attribute. Items are keyed by the string attribute "key" and hold the
// counter in "value".
type DynamoDBCounter struct {
	client    DynamoDBUpdater
	tableName string
	closed    bool
}

// NewDynamoDBClient loads the AWS configuration for region and checks that
// tableName exists.
func NewDynamoDBClient(region, tableName, endpoint, accessKeyID, secretAccessKey string) (*dynamodb.Client, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}

	var clientOptions []func(*dynamodb.Options)
	if endpoint != "" {
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", tableName, err)
	}
	return client, nil
}

// NewDynamoDBCounter wraps client for tableName.
func NewDynamoDBCounter(client DynamoDBUpdater, tableName string) *DynamoDBCounter {
	return &DynamoDBCounter{client: client, tableName: tableName}
}

// Next implements Counter.
func (d *DynamoDBCounter) Next(ctx context.Context, key string) (int64, error) {
	if d.closed {
		return 0, fmt.Errorf("counter is closed")
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:         aws.String("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{"#v": "value"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	attr, ok := out.Attributes["value"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("counter %s: updated value missing from response", key)
	}
	n, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counter %s: invalid value %q: %w", key, attr.Value, err)
	}
	return n, nil
}

// Close implements Counter. The SDK client holds no connection of its own.
func (d *DynamoDBCounter) Close() error {
	d.closed = true
	return nil
}

// DynamoDBCounterFactory creates DynamoDB counters.
type DynamoDBCounterFactory struct{}

// Type returns "dynamodb".
func (f *DynamoDBCounterFactory) Type() string {
	return "dynamodb"
}

// Validate checks the DynamoDB settings.
func (f *DynamoDBCounterFactory) Validate(config Config) error {
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	if (config.AccessKeyID == "") != (config.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	return nil
}

// Create connects to DynamoDB.
func (f *DynamoDBCounterFactory) Create(config Config) (Counter, error) {
	client, err := NewDynamoDBClient(config.Region, config.TableName, config.Endpoint, config.AccessKeyID, config.SecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB counter: %w", err)
	}
	return NewDynamoDBCounter(client, config.TableName), nil
}

func init() {
	RegisterFactory(&DynamoDBCounterFactory{})
}
