package snapshot

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDBClient is an in-memory stand-in for DynamoDB with conditional-put
// semantics.
type fakeDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDDBClient() *fakeDDBClient {
	return &fakeDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logID := params.Item["log_id"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := logID + ":" + version

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := f.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	f.items[key] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	logID := params.ExpressionAttributeValues[":log"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue

	for _, item := range f.items {
		if item["log_id"].(*types.AttributeValueMemberS).Value == logID {
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool {
		vi, _ := strconv.ParseInt(items[i]["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		vj, _ := strconv.ParseInt(items[j]["version"].(*types.AttributeValueMemberN).Value, 10, 64)

		return vi > vj
	})

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}

	return &dynamodb.QueryOutput{Items: items}, nil
}

func TestDDBCommitLog(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyLog", func(t *testing.T) {
		log := NewDDBCommitLog(newFakeDDBClient(), "simidx-snapshots", "store-a")

		_, err := log.Latest(ctx)
		assert.ErrorIs(t, err, ErrNoSnapshot)
	})

	t.Run("PublishAndLatest", func(t *testing.T) {
		log := NewDDBCommitLog(newFakeDDBClient(), "simidx-snapshots", "store-a")
		created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, log.Publish(ctx, Record{Version: 1, Key: "snap/catalog-v1.db", Size: 42, CreatedAt: created}))
		require.NoError(t, log.Publish(ctx, Record{Version: 2, Key: "snap/catalog-v2.db", Size: 43, CreatedAt: created.Add(time.Hour)}))

		latest, err := log.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), latest.Version)
		assert.Equal(t, "snap/catalog-v2.db", latest.Key)
		assert.Equal(t, int64(43), latest.Size)
		assert.WithinDuration(t, created.Add(time.Hour), latest.CreatedAt, 0)
	})

	t.Run("VersionConflict", func(t *testing.T) {
		log := NewDDBCommitLog(newFakeDDBClient(), "simidx-snapshots", "store-a")

		require.NoError(t, log.Publish(ctx, Record{Version: 1, Key: "a"}))

		err := log.Publish(ctx, Record{Version: 1, Key: "b"})
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("IsolatedLogs", func(t *testing.T) {
		client := newFakeDDBClient()
		logA := NewDDBCommitLog(client, "simidx-snapshots", "store-a")
		logB := NewDDBCommitLog(client, "simidx-snapshots", "store-b")

		require.NoError(t, logA.Publish(ctx, Record{Version: 1, Key: "a1"}))
		require.NoError(t, logB.Publish(ctx, Record{Version: 1, Key: "b1"}))
		require.NoError(t, logB.Publish(ctx, Record{Version: 2, Key: "b2"}))

		latest, err := logA.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a1", latest.Key)
	})

	t.Run("ConcurrentPublishers", func(t *testing.T) {
		log := NewDDBCommitLog(newFakeDDBClient(), "simidx-snapshots", "store-a")

		var (
			wg        sync.WaitGroup
			conflicts atomic.Int32
		)

		for i := 0; i < 5; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				if err := log.Publish(ctx, Record{Version: 7, Key: "contended"}); err != nil {
					assert.ErrorIs(t, err, ErrVersionConflict)
					conflicts.Add(1)
				}
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(4), conflicts.Load())
	})
}
