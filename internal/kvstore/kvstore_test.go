package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	counters map[string]int64
	err      error
	closed   bool
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counters[key]++
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisCounterIncrements(t *testing.T) {
	fake := &fakeRedis{counters: map[string]int64{}}
	c := NewRedisCounter(fake, "seq:")

	for want := int64(1); want <= 3; want++ {
		got, err := c.Next(context.Background(), "roads")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, int64(3), fake.counters["seq:roads"])

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, fake.closed)

	_, err := c.Next(context.Background(), "roads")
	assert.Error(t, err)
}

func TestRedisCounterPropagatesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	c := NewRedisCounter(&fakeRedis{err: boom}, "")

	_, err := c.Next(context.Background(), "roads")
	assert.ErrorIs(t, err, boom)
}

type fakeDynamo struct {
	values map[string]int64
	inputs []*dynamodb.UpdateItemInput
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.inputs = append(f.inputs, in)
	key := in.Key["key"].(*types.AttributeValueMemberS).Value
	f.values[key]++
	return &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{
			"value": &types.AttributeValueMemberN{Value: strconv.FormatInt(f.values[key], 10)},
		},
	}, nil
}

func TestDynamoDBCounterIncrements(t *testing.T) {
	fake := &fakeDynamo{values: map[string]int64{}}
	c := NewDynamoDBCounter(fake, "sequences")

	first, err := c.Next(context.Background(), "parcels")
	require.NoError(t, err)
	second, err := c.Next(context.Background(), "parcels")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	require.Len(t, fake.inputs, 2)
	assert.Equal(t, "sequences", aws.ToString(fake.inputs[0].TableName))
	assert.Equal(t, "ADD #v :one", aws.ToString(fake.inputs[0].UpdateExpression))
	assert.Equal(t, types.ReturnValueUpdatedNew, fake.inputs[0].ReturnValues)
}

func TestFactoryValidation(t *testing.T) {
	assert.Equal(t, []string{"bolt", "dynamodb", "redis"}, GetRegisteredTypes())
	assert.True(t, IsTypeRegistered("redis"))

	_, err := Create(Config{})
	assert.Error(t, err)

	_, err = Create(Config{Type: "memcached"})
	assert.ErrorContains(t, err, "unsupported counter type")

	_, err = Create(Config{Type: "redis"})
	assert.ErrorContains(t, err, "endpoint")

	_, err = Create(Config{Type: "dynamodb", Region: "us-east-1"})
	assert.ErrorContains(t, err, "table_name")

	_, err = Create(Config{Type: "bolt"})
	assert.ErrorContains(t, err, "path")
}

func TestBoltCounterPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sequences.db")

	c, err := Create(Config{Type: "bolt", Path: path})
	require.NoError(t, err)
	for want := int64(1); want <= 3; want++ {
		n, err := c.Next(ctx, "roads")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err := c.Next(ctx, "parcels")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "keys count independently")
	require.NoError(t, c.Close())

	reopened, err := OpenBoltCounter(path, 0)
	require.NoError(t, err)
	defer reopened.Close()
	n, err = reopened.Next(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = reopened.Next(cancelled, "roads")
	assert.ErrorIs(t, err, context.Canceled)
}
