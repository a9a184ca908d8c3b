package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/skothari-dev/loom/internal/core"
)

// DynamoDBCache implements the core.Cache interface using AWS
// DynamoDB. Expiry leans on the table's native TTL attribute, with an
// extra read-side check since DynamoDB expires items lazily.
type DynamoDBCache struct {
	client    *dynamodb.Client
	tableName string
	closed    bool
}

// NewDynamoDBCache creates a DynamoDB cache backend and verifies the
// table exists before returning.
func NewDynamoDBCache(region, tableName, endpoint, accessKeyID, secretAccessKey string) (*DynamoDBCache, error) {
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}
	if tableName == "" {
		return nil, fmt.Errorf("table name is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")
	}

	clientOptions := []func(*dynamodb.Options){}
	if endpoint != "" {
		// Custom endpoint, for LocalStack
		clientOptions = append(clientOptions, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	client := dynamodb.NewFromConfig(cfg, clientOptions...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB table %s: %w", tableName, err)
	}

	return &DynamoDBCache{client: client, tableName: tableName}, nil
}

// Get retrieves a cached value by key. Missing or expired keys return
// core.ErrNotFound.
func (d *DynamoDBCache) Get(ctx context.Context, key string) ([]byte, error) {
	if d.closed {
		return nil, core.ErrNoConnection
	}

	input := &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	}

	result, err := d.client.GetItem(ctx, input)
	if err != nil {
		log.Printf("[CACHE] ERROR: Failed to get key %s: %v", key, err)
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if result.Item == nil {
		return nil, core.ErrNotFound
	}
	if expired(result.Item) {
		return nil, core.ErrNotFound
	}

	valueAttr, ok := result.Item["value"]
	if !ok {
		return nil, core.ErrNotFound
	}
	valueMember, ok := valueAttr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("invalid value format for key %s", key)
	}

	log.Printf("[CACHE] Hit for key %s (%d bytes)", key, len(valueMember.Value))
	return valueMember.Value, nil
}

// Set stores a key-value pair with an optional TTL.
func (d *DynamoDBCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if d.closed {
		return core.ErrNoConnection
	}

	item := map[string]types.AttributeValue{
		"key":        &types.AttributeValueMemberS{Value: key},
		"value":      &types.AttributeValueMemberB{Value: value},
		"created_at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl).Unix()
		item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		log.Printf("[CACHE] ERROR: Failed to set key %s: %v", key, err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}

	log.Printf("[CACHE] Stored key %s (%d bytes, ttl %v)", key, len(value), ttl)
	return nil
}

// Delete removes a key from the cache.
func (d *DynamoDBCache) Delete(ctx context.Context, key string) error {
	if d.closed {
		return core.ErrNoConnection
	}

	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"key": &types.AttributeValueMemberS{Value: key},
		},
	}

	if _, err := d.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// Close marks the cache as closed. The DynamoDB client itself holds no
// persistent connection that needs closing.
func (d *DynamoDBCache) Close() error {
	d.closed = true
	return nil
}

// expired reports whether an item carries a ttl attribute in the past.
// DynamoDB removes expired items lazily, so Get must check too.
func expired(item map[string]types.AttributeValue) bool {
	ttlAttr, ok := item["ttl"]
	if !ok {
		return false
	}
	ttlMember, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	var ttl int64
	if _, err := fmt.Sscanf(ttlMember.Value, "%d", &ttl); err != nil {
		return false
	}
	return time.Now().Unix() > ttl
}

// DynamoDBCacheFactory creates DynamoDB cache instances.
type DynamoDBCacheFactory struct{}

func (f *DynamoDBCacheFactory) Type() string { return "dynamodb" }

// Validate validates the DynamoDB-specific configuration.
func (f *DynamoDBCacheFactory) Validate(config Config) error {
	if config.Type != "dynamodb" {
		return fmt.Errorf("invalid type for DynamoDB factory: %s", config.Type)
	}
	if config.Region == "" {
		return fmt.Errorf("region is required for DynamoDB")
	}
	if config.TableName == "" {
		return fmt.Errorf("table_name is required for DynamoDB")
	}
	return nil
}

// Create creates a new DynamoDB cache instance from the configuration.
func (f *DynamoDBCacheFactory) Create(config Config) (core.Cache, error) {
	store, err := NewDynamoDBCache(
		config.Region,
		config.TableName,
		config.Endpoint,
		config.AccessKeyID,
		config.SecretAccessKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB cache: %w", err)
	}
	return store, nil
}

func init() {
	RegisterFactory(&DynamoDBCacheFactory{})
}
