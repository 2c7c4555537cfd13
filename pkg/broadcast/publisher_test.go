package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kunalrpawar/crowd-management-sub001/pkg/broadcast"
)

type fakeRedis struct {
	mu       sync.Mutex
	err      error
	calls    int
	channel  string
	messages [][]byte
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channel = channel
	f.messages = append(f.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func TestPublish_EncodesJSON(t *testing.T) {
	client := &fakeRedis{}
	pub := broadcast.NewRedisPublisher(client, "crowdops:live", broadcast.BreakerSettings{}, zerolog.Nop())

	err := pub.Publish(context.Background(), map[string]any{"type": "parvani_day_toggled", "active": true})
	require.NoError(t, err)

	require.Len(t, client.messages, 1)
	assert.Equal(t, "crowdops:live", client.channel)

	var got map[string]any
	require.NoError(t, json.Unmarshal(client.messages[0], &got))
	assert.Equal(t, "parvani_day_toggled", got["type"])
	assert.Equal(t, true, got["active"])
}

func TestPublish_BreakerOpensAfterFailures(t *testing.T) {
	client := &fakeRedis{err: errors.New("connection refused")}
	pub := broadcast.NewRedisPublisher(client, "crowdops:live", broadcast.BreakerSettings{
		MaxFailures: 3,
		OpenTimeout: time.Minute,
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		err := pub.Publish(context.Background(), "event")
		require.Error(t, err)
		assert.NotErrorIs(t, err, broadcast.ErrUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, pub.State())

	err := pub.Publish(context.Background(), "event")
	assert.ErrorIs(t, err, broadcast.ErrUnavailable)
	assert.Equal(t, 3, client.calls)
}

func TestPublish_EncodeError(t *testing.T) {
	client := &fakeRedis{}
	pub := broadcast.NewRedisPublisher(client, "crowdops:live", broadcast.BreakerSettings{}, zerolog.Nop())

	err := pub.Publish(context.Background(), make(chan int))
	assert.Error(t, err)
	assert.Zero(t, client.calls)
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, broadcast.Discard{}.Publish(context.Background(), "anything"))
}
