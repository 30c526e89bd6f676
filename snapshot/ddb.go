package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API the commit log needs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitLog implements CommitLog on DynamoDB. Conditional writes give the
// compare-and-swap semantics an object store cannot: two writers publishing
// the same version race on the condition and exactly one wins.
//
// Table schema:
//   - Partition key: log_id (string) - one log per store
//   - Sort key: version (number) - monotonically increasing version
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name simidx-snapshots \
//	  --attribute-definitions AttributeName=log_id,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=log_id,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitLog struct {
	client DDBClient
	table  string
	logID  string
}

// NewDDBCommitLog creates a commit log writing to the given table under the
// given log id.
func NewDDBCommitLog(client DDBClient, table, logID string) *DDBCommitLog {
	return &DDBCommitLog{
		client: client,
		table:  table,
		logID:  logID,
	}
}

// Latest implements CommitLog.
func (l *DDBCommitLog) Latest(ctx context.Context) (Record, error) {
	resp, err := l.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("log_id = :log"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":log": &types.AttributeValueMemberS{Value: l.logID},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return Record{}, fmt.Errorf("query snapshot log: %w", err)
	}

	if len(resp.Items) == 0 {
		return Record{}, ErrNoSnapshot
	}

	return recordFromItem(resp.Items[0])
}

// Publish implements CommitLog.
func (l *DDBCommitLog) Publish(ctx context.Context, rec Record) error {
	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item: map[string]types.AttributeValue{
			"log_id":     &types.AttributeValueMemberS{Value: l.logID},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)},
			"object_key": &types.AttributeValueMemberS{Value: rec.Key},
			"size_bytes": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Size, 10)},
			"created_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.CreatedAt.Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: version %d", ErrVersionConflict, rec.Version)
		}

		return fmt.Errorf("publish snapshot version: %w", err)
	}

	return nil
}

func recordFromItem(item map[string]types.AttributeValue) (Record, error) {
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return Record{}, errors.New("snapshot: missing version attribute")
	}

	version, err := strconv.ParseInt(versionAttr.Value, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("snapshot: parse version: %w", err)
	}

	keyAttr, ok := item["object_key"].(*types.AttributeValueMemberS)
	if !ok {
		return Record{}, errors.New("snapshot: missing object_key attribute")
	}

	rec := Record{
		Version: version,
		Key:     keyAttr.Value,
	}

	if sizeAttr, ok := item["size_bytes"].(*types.AttributeValueMemberN); ok {
		if size, err := strconv.ParseInt(sizeAttr.Value, 10, 64); err == nil {
			rec.Size = size
		}
	}

	if createdAttr, ok := item["created_at"].(*types.AttributeValueMemberN); ok {
		if unix, err := strconv.ParseInt(createdAttr.Value, 10, 64); err == nil {
			rec.CreatedAt = time.Unix(unix, 0).UTC()
		}
	}

	return rec, nil
}
