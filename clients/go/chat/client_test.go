package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025tf20/KTB-LoadTest-team-20/clients/go/chat"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/api/middleware"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/files"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/handlers"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/moderation"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/socket"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

func newServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := zerolog.Nop()

	mr := miniredis.RunT(t)
	kv, err := store.NewRedisStore(ctx, "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	data, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(data.Close)

	checker, err := moderation.NewChecker([]string{"badword"})
	require.NoError(t, err)

	sessions := session.NewValidator(kv, time.Hour)
	limiter := ratelimit.NewLimiter(kv)
	resolver := files.NewResolver("")
	hub := socket.NewHub(logger)
	fanout := socket.NewFanout(nil, hub, logger)

	p := pipeline.New(pipeline.Deps{
		Sessions:    sessions,
		Limiter:     limiter,
		Filter:      checker,
		Documents:   data,
		Broadcaster: fanout,
		Files:       resolver,
	}, pipeline.DefaultConfig(), logger)

	router := api.NewRouter(logger, api.Deps{
		Data:     data,
		Redis:    kv,
		Limiter:  limiter,
		Sessions: sessions,
		Services: handlers.Services{Sessions: sessions, Messages: p, Files: resolver, Hub: hub},
		Socket: socket.NewHandler(ctx, hub,
			socket.NewDispatcher(p, data, resolver, fanout, hub, logger), sessions, logger),
		RateLimit: middleware.RateLimiterConfig{Whitelist: []string{"127.0.0.1"}},
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newClient(t *testing.T, url string) *chat.Client {
	t.Helper()
	c := chat.NewClient(url)
	c.ConfigDir = t.TempDir()
	c.UserID, c.SessionID = "", ""
	return c
}

func signup(t *testing.T, c *chat.Client, name, email string) {
	t.Helper()
	ctx := context.Background()
	_, err := c.Register(ctx, name, email, "correct horse")
	require.NoError(t, err)
	_, err = c.Login(ctx, email, "correct horse")
	require.NoError(t, err)
}

func TestClientHTTPFlow(t *testing.T) {
	url := newServer(t)
	ctx := context.Background()

	alice := newClient(t, url)
	signup(t, alice, "Alice", "alice@example.com")
	bob := newClient(t, url)
	signup(t, bob, "Bob", "bob@example.com")

	health, err := alice.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)

	room, err := alice.CreateRoom(ctx, "general")
	require.NoError(t, err)
	assert.Len(t, room.Participants, 1)

	joined, err := bob.JoinRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, joined.Participants, 2)

	posted, err := alice.PostMessage(ctx, room.ID, "hello")
	require.NoError(t, err)
	require.NotNil(t, posted)

	ignored, err := alice.PostMessage(ctx, room.ID, "   ")
	require.NoError(t, err)
	assert.Nil(t, ignored)

	_, err = alice.PostMessage(ctx, room.ID, "badword")
	var apiErr *chat.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	page, err := bob.GetMessages(ctx, room.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, posted.ID, page.Messages[0].ID)
	assert.Equal(t, "Alice", page.Messages[0].Sender.Name)

	profile, err := bob.GetUser(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.Name)

	require.NoError(t, alice.Logout(ctx))
	_, err = alice.CreateRoom(ctx, "again")
	require.Error(t, err)
}

func TestClientConfigRoundTrip(t *testing.T) {
	c := newClient(t, "http://example.invalid")
	c.UserID, c.SessionID = "u1", "s1"
	require.NoError(t, c.SaveConfig())

	other := &chat.Client{ConfigDir: c.ConfigDir}
	require.NoError(t, other.LoadConfig())
	assert.Equal(t, "u1", other.UserID)
	assert.Equal(t, "s1", other.SessionID)
}

func TestSocketSendAndReceive(t *testing.T) {
	url := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := newClient(t, url)
	signup(t, alice, "Alice", "alice@example.com")

	_, err := newClient(t, url).Dial(ctx)
	require.Error(t, err)

	room, err := alice.CreateRoom(ctx, "general")
	require.NoError(t, err)

	conn, err := alice.Dial(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Join(room.ID))
	_, err = conn.WaitFor(ctx, chat.EventJoinRoomSuccess)
	require.NoError(t, err)

	require.NoError(t, conn.SendText(room.ID, "over the socket"))
	ev, err := conn.WaitFor(ctx, chat.EventMessage)
	require.NoError(t, err)
	var msg chat.Message
	require.NoError(t, json.Unmarshal(ev.Data, &msg))
	assert.Equal(t, "over the socket", msg.Content)
	assert.Equal(t, alice.UserID, msg.Sender.ID)

	require.NoError(t, conn.SendText(room.ID, "a badword"))
	_, err = conn.WaitFor(ctx, chat.EventMessage)
	var se *chat.SocketError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "MESSAGE_REJECTED", se.Payload.Code)
}

func TestRunLoad(t *testing.T) {
	url := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	report, err := chat.RunLoad(ctx, url, chat.LoadOptions{Users: 3, Messages: 5})
	require.NoError(t, err)
	assert.Equal(t, 15, report.Sent)
	assert.Equal(t, 15, report.Delivered)
	assert.Zero(t, report.Failed)
	assert.LessOrEqual(t, report.P50, report.Max)
}
