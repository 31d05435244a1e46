package fabric

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisFabric spans server processes: every group is a Redis pub/sub
// channel, and each process fans a received payload out to its local
// subscribers. Redis preserves publish order per channel, which gives
// the per-group FIFO guarantee.
type RedisFabric struct {
	client *redis.Client
	pubsub *redis.PubSub

	mu     sync.Mutex
	groups map[string]map[Subscriber]bool
}

func NewRedis(client *redis.Client) *RedisFabric {
	f := &RedisFabric{
		client: client,
		pubsub: client.Subscribe(context.Background()),
		groups: make(map[string]map[Subscriber]bool),
	}
	go f.listen()
	return f
}

func (f *RedisFabric) Join(group string, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.groups[group]
	if !ok {
		subs = make(map[Subscriber]bool)
		f.groups[group] = subs
		// First local member: start receiving this channel.
		if err := f.pubsub.Subscribe(context.Background(), group); err != nil {
			log.Printf("❌ Redis subscribe %q: %v", group, err)
		}
	}
	subs[sub] = true
}

func (f *RedisFabric) Leave(group string, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.groups[group]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(f.groups, group)
		if err := f.pubsub.Unsubscribe(context.Background(), group); err != nil {
			log.Printf("❌ Redis unsubscribe %q: %v", group, err)
		}
	}
}

func (f *RedisFabric) Publish(ctx context.Context, group string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, group, payload).Err()
}

// listen receives messages from every subscribed channel and fans them
// out to the local members of that group.
func (f *RedisFabric) listen() {
	for msg := range f.pubsub.Channel() {
		f.mu.Lock()
		subs := make([]Subscriber, 0, len(f.groups[msg.Channel]))
		for sub := range f.groups[msg.Channel] {
			subs = append(subs, sub)
		}
		f.mu.Unlock()

		for _, sub := range subs {
			sub.Deliver([]byte(msg.Payload))
		}
	}
}

func (f *RedisFabric) Close() error {
	return f.pubsub.Close()
}
