package socket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

func newTestClient(hub *Hub, userID string) *Client {
	c := NewClient(hub, nil, pipeline.Identity{UserID: userID}, zerolog.Nop())
	hub.Register(c)
	return c
}

func decode(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestHubDeliversToRoomSubscribersOnly(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")

	require.True(t, hub.Join("r1", alice))
	assert.True(t, hub.Joined("r1", alice))
	assert.False(t, hub.Joined("r1", bob))

	assert.Equal(t, 1, hub.Deliver("r1", []byte(`{"event":"message"}`)))
	assert.Len(t, alice.send, 1)
	assert.Len(t, bob.send, 0)

	hub.Leave("r1", alice)
	assert.Equal(t, 0, hub.RoomSize("r1"))
	assert.Equal(t, 0, hub.Deliver("r1", []byte(`{}`)))
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient(hub, "alice")
	hub.Join("r1", c)

	for i := 0; i < sendBuffer; i++ {
		hub.Deliver("r1", []byte(`{}`))
	}
	assert.Equal(t, 0, hub.Deliver("r1", []byte(`{}`)))
	assert.Len(t, c.send, sendBuffer)
}

func TestUnregisterClosesQueueOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient(hub, "alice")
	hub.Join("r1", c)
	hub.Join("r2", c)

	hub.Unregister(c)
	hub.Unregister(c)

	assert.Equal(t, 0, hub.RoomSize("r1"))
	assert.Equal(t, 0, hub.RoomSize("r2"))
	assert.False(t, hub.Join("r1", c))

	_, open := <-c.send
	assert.False(t, open)

	// Emitting to a closed client is a no-op rather than a panic.
	c.Emit("message", map[string]string{"x": "y"})
}

func TestEmitEncodesEnvelope(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient(hub, "alice")

	c.Emit(pipeline.EventError, pipeline.ErrorPayload{Code: pipeline.CodeMessageError, Message: "nope"})

	env := decode(t, <-c.send)
	assert.Equal(t, pipeline.EventError, env.Event)
	assert.JSONEq(t, `{"code":"MESSAGE_ERROR","message":"nope"}`, string(env.Data))
}

func TestFanoutWithoutRedisDeliversLocally(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newTestClient(hub, "alice")
	hub.Join("r1", c)

	f := NewFanout(nil, hub, zerolog.Nop())
	require.NoError(t, f.Broadcast(context.Background(), "r1", pipeline.EventMessage, map[string]string{"id": "m1"}))

	env := decode(t, <-c.send)
	assert.Equal(t, pipeline.EventMessage, env.Event)
	assert.JSONEq(t, `{"id":"m1"}`, string(env.Data))
}

func TestFanoutAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newNode := func() (*Hub, *Fanout) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		hub := NewHub(zerolog.Nop())
		return hub, NewFanout(client, hub, zerolog.Nop())
	}
	_, sender := newNode()
	hubB, receiver := newNode()

	go receiver.Run(ctx)
	select {
	case <-receiver.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("fanout did not subscribe")
	}

	member := newTestClient(hubB, "bob")
	hubB.Join("r1", member)
	outsider := newTestClient(hubB, "carol")
	hubB.Join("r2", outsider)

	require.NoError(t, sender.Broadcast(ctx, "r1", pipeline.EventMessage, map[string]string{"id": "m1"}))

	select {
	case frame := <-member.send:
		env := decode(t, frame)
		assert.Equal(t, pipeline.EventMessage, env.Event)
		assert.JSONEq(t, `{"id":"m1"}`, string(env.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}
	assert.Len(t, outsider.send, 0)
}
