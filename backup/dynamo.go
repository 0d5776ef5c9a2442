package backup

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConcurrentModification is returned when another writer committed the
// same catalog version first.
var ErrConcurrentModification = errors.New("backup: concurrent catalog modification")

// DDBClient is the subset of *dynamodb.Client the catalog uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// DynamoCatalog is a versioned backup pointer on DynamoDB. Every commit
// writes version n+1 with a conditional put, so two processes sharing a
// bucket cannot silently overwrite each other's pointer.
//
// Table schema:
//   - Partition key: base_uri (S), the blob store location
//   - Sort key: version (N)
//
//	aws dynamodb create-table \
//	  --table-name synapsd-backups \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoCatalog struct {
	client  DDBClient
	table   string
	baseURI string
}

// NewDynamoCatalog creates a catalog for baseURI (e.g. "s3://bucket/prefix").
func NewDynamoCatalog(client DDBClient, table, baseURI string) *DynamoCatalog {
	return &DynamoCatalog{client: client, table: table, baseURI: baseURI}
}

// ConnectDynamoCatalog loads the default AWS configuration.
func ConnectDynamoCatalog(ctx context.Context, table, baseURI string) (*DynamoCatalog, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewDynamoCatalog(dynamodb.NewFromConfig(cfg), table, baseURI), nil
}

func (c *DynamoCatalog) latest(ctx context.Context) (uint64, string, error) {
	resp, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: c.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("backup: query catalog: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("backup: invalid version attribute in catalog")
	}
	nameAttr, ok := item["backup_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("backup: invalid backup_name attribute in catalog")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("backup: parse catalog version: %w", err)
	}
	return version, nameAttr.Value, nil
}

// Latest returns the name with the highest version.
func (c *DynamoCatalog) Latest(ctx context.Context) (string, error) {
	version, name, err := c.latest(ctx)
	if err != nil {
		return "", err
	}
	if version == 0 {
		return "", ErrNoBackup
	}
	return name, nil
}

// Commit writes the next version. Returns ErrConcurrentModification if
// that version was taken in the meantime.
func (c *DynamoCatalog) Commit(ctx context.Context, name string) error {
	current, _, err := c.latest(ctx)
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]types.AttributeValue{
			"base_uri":    &types.AttributeValueMemberS{Value: c.baseURI},
			"version":     &types.AttributeValueMemberN{Value: strconv.FormatUint(current+1, 10)},
			"backup_name": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("backup: commit catalog version %d: %w", current+1, err)
	}
	return nil
}
