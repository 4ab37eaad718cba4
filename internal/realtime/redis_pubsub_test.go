package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestPubSub(t *testing.T) (*RedisPubSub, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisPubSub(client, nil), mr
}

func TestRedisRevisionsAreShared(t *testing.T) {
	a, mr := newTestPubSub(t)
	b := NewRedisPubSub(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	sessionID := uuid.New()
	ctx := context.Background()

	var got []uint64
	for _, src := range []*RedisPubSub{a, b, a} {
		rev, err := src.Next(ctx, sessionID)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got = append(got, rev)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("Expected 1,2,3 across instances, got %v", got)
	}
	if ttl := mr.TTL(sessionChannel(sessionID) + revisionSuffix); ttl != revisionTTL {
		t.Errorf("Expected revision TTL %s, got %s", revisionTTL, ttl)
	}
}

func TestRedisBridgeRoundTrip(t *testing.T) {
	ps, _ := newTestPubSub(t)
	sessionID := uuid.New()
	received := make(chan Envelope, 1)

	cancel, err := ps.SubscribeSession(sessionID, func(env Envelope) { received <- env })
	if err != nil {
		t.Fatalf("SubscribeSession: %v", err)
	}
	defer cancel()

	sent := Envelope{
		Origin:  "instance-a",
		Except:  "conn-1",
		Message: WSMessage{Event: "poll-updated", Data: json.RawMessage(`{"pollId":"p"}`), Revision: 7},
	}
	if err := ps.PublishSessionEvent(context.Background(), sessionID, sent); err != nil {
		t.Fatalf("PublishSessionEvent: %v", err)
	}

	select {
	case env := <-received:
		if env.Origin != sent.Origin || env.Except != sent.Except || env.Message.Revision != 7 || env.Message.Event != "poll-updated" {
			t.Errorf("Unexpected envelope %+v", env)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Envelope not received")
	}
}
