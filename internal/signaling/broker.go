package signaling

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/hasnaatmalik/voca-coach-sub002/internal/util"
)

// Envelope is a relayed frame as it travels between hub nodes.
type Envelope struct {
	Node   string          `json:"node"`
	Origin uint64          `json:"origin"`
	Room   string          `json:"room"`
	Data   json.RawMessage `json:"data"`
}

// Broker carries envelopes between hub nodes. Every node receives every
// envelope, its own included.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe delivers envelopes until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
}

const channelPrefix = "signal:"

// RedisBroker fans envelopes out over Redis Pub/Sub, one channel per room.
type RedisBroker struct {
	rdb *redis.Client
}

// NewRedisBroker connects to addr and verifies it with PING.
func NewRedisBroker(ctx context.Context, addr, password string, db int) (*RedisBroker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisBroker{rdb: rdb}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelPrefix+env.Room, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ps := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}
	brokerSubscribed.Set(1)

	out := make(chan Envelope, sendBuffer)
	go func() {
		defer func() {
			brokerSubscribed.Set(0)
			_ = ps.Close()
			close(out)
		}()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					util.LogWarning("signaling: bad envelope on %s: %v", msg.Channel, err)
					continue
				}
				if env.Room == "" {
					env.Room = strings.TrimPrefix(msg.Channel, channelPrefix)
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the Redis connection pool.
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
