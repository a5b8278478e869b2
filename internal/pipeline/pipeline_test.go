package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/moderation"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
)

type fakeSessions struct {
	mu        sync.Mutex
	tokens    map[string]string
	touched   []string
	validErr  error
	touchErrs error
}

func (f *fakeSessions) Validate(_ context.Context, userID, token string) (session.Result, error) {
	if f.validErr != nil {
		return session.Result{}, f.validErr
	}
	current, ok := f.tokens[userID]
	switch {
	case !ok:
		return session.Result{Reason: session.ReasonNoSuchSession}, nil
	case current != token:
		return session.Result{Reason: session.ReasonTokenMismatch}, nil
	}
	return session.Result{Valid: true}, nil
}

func (f *fakeSessions) UpdateLastActivity(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, userID)
	return f.touchErrs
}

type fakeLimiter struct {
	deny       bool
	retryAfter int
	keys       []string
}

func (f *fakeLimiter) Check(_ context.Context, key string, _ int, _ time.Duration) (ratelimit.Result, error) {
	f.keys = append(f.keys, key)
	if f.deny {
		return ratelimit.Result{RetryAfter: f.retryAfter}, nil
	}
	return ratelimit.Result{Allowed: true}, nil
}

type fakeDocs struct {
	users   map[string]*models.User
	rooms   map[string]*models.Room
	saved   []*models.Message
	saveErr error
	panicOn string
}

func (f *fakeDocs) GetUserByID(_ context.Context, id string) (*models.User, error) {
	if f.panicOn == "user" {
		panic("boom")
	}
	return f.users[id], nil
}

func (f *fakeDocs) GetRoom(_ context.Context, id string) (*models.Room, error) {
	return f.rooms[id], nil
}

func (f *fakeDocs) SaveMessage(_ context.Context, msg *models.Message) (*models.Message, error) {
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	saved := *msg
	saved.ID = "m" + string(rune('0'+len(f.saved)+1))
	saved.Timestamp = time.UnixMilli(1700000000000)
	f.saved = append(f.saved, &saved)
	return &saved, nil
}

type broadcast struct {
	room    string
	event   string
	payload any
}

type fakeBroadcaster struct {
	sent []broadcast
	err  error
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, roomID, event string, payload any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, broadcast{roomID, event, payload})
	return nil
}

type fakeFiles struct{}

func (fakeFiles) PublicURL(key string) string { return "https://cdn.example.com/" + key }

type fakeMentions struct {
	calls chan Content
}

func (f *fakeMentions) Notify(_ context.Context, _, _ string, c Content) {
	f.calls <- c
}

type recorder struct {
	events []string
	errs   []ErrorPayload
}

func (r *recorder) Emit(event string, payload any) {
	r.events = append(r.events, event)
	if p, ok := payload.(ErrorPayload); ok {
		r.errs = append(r.errs, p)
	}
}

type harness struct {
	p        *Pipeline
	sessions *fakeSessions
	limiter  *fakeLimiter
	docs     *fakeDocs
	bc       *fakeBroadcaster
	mentions *fakeMentions
	emit     *recorder
	caller   *Identity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	checker, err := moderation.NewChecker([]string{"badword", "scam"})
	require.NoError(t, err)

	h := &harness{
		sessions: &fakeSessions{tokens: map[string]string{"alice": "tok"}},
		limiter:  &fakeLimiter{},
		docs: &fakeDocs{
			users: map[string]*models.User{
				"alice": {ID: "alice", Name: "Alice"},
				"bob":   {ID: "bob", Name: "Bob"},
			},
			rooms: map[string]*models.Room{
				"r1": {ID: "r1", ParticipantIDs: []string{"alice"}},
			},
		},
		bc:       &fakeBroadcaster{},
		mentions: &fakeMentions{calls: make(chan Content, 1)},
		emit:     &recorder{},
		caller:   &Identity{UserID: "alice", SessionToken: "tok"},
	}
	h.p = New(Deps{
		Sessions:    h.sessions,
		Limiter:     h.limiter,
		Filter:      checker,
		Documents:   h.docs,
		Broadcaster: h.bc,
		Files:       fakeFiles{},
		Mentions:    h.mentions,
	}, Config{RateLimit: 3, RateWindow: time.Minute}, zerolog.Nop())
	return h
}

func (h *harness) send(req *ChatMessageRequest) Outcome {
	return h.p.Handle(context.Background(), h.caller, req, h.emit)
}

func ptr(s string) *string { return &s }

func TestTextMessageSuccess(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("  hello  ")})

	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, h.docs.saved, 1)
	saved := h.docs.saved[0]
	assert.Equal(t, "hello", saved.Content)
	assert.Equal(t, models.MessageTypeText, saved.Type)
	assert.Nil(t, saved.File)
	assert.Equal(t, "alice", saved.SenderID)
	assert.Equal(t, "r1", saved.RoomID)

	require.Len(t, h.bc.sent, 1)
	sent := h.bc.sent[0]
	assert.Equal(t, "r1", sent.room)
	assert.Equal(t, EventMessage, sent.event)
	resp := sent.payload.(MessageResponse)
	assert.Equal(t, saved.ID, resp.ID)
	assert.Equal(t, "Alice", resp.Sender.Name)
	assert.Equal(t, int64(1700000000000), resp.Timestamp)
	assert.NotNil(t, resp.Reactions)
	assert.Nil(t, resp.File)

	assert.Empty(t, h.emit.events)
	assert.Equal(t, []string{"alice"}, h.sessions.touched)
	assert.Equal(t, []string{"chat:alice"}, h.limiter.keys)
}

func TestMissingTypeDefaultsToText(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Content: ptr("hi")})
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, models.MessageTypeText, out.Message.Type)
}

func TestWhitespaceTextIsIgnored(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("   ")})

	assert.Equal(t, StatusIgnored, out.Status)
	assert.Empty(t, h.docs.saved)
	assert.Empty(t, h.bc.sent)
	assert.Empty(t, h.emit.events)

	out = h.send(&ChatMessageRequest{Room: "r1", Type: "text"})
	assert.Equal(t, StatusIgnored, out.Status)
}

func TestNullPayload(t *testing.T) {
	h := newHarness(t)

	out := h.send(nil)

	assert.Equal(t, ReasonNullData, out.Reason)
	require.Len(t, h.emit.errs, 1)
	assert.Equal(t, CodeMessageError, h.emit.errs[0].Code)
}

func TestSessionFailures(t *testing.T) {
	h := newHarness(t)
	req := &ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")}

	out := h.p.Handle(context.Background(), nil, req, h.emit)
	assert.Equal(t, ReasonSessionNull, out.Reason)
	assert.Equal(t, CodeSessionExpired, out.Error.Code)

	h.caller = &Identity{UserID: "alice", SessionToken: "stale"}
	out = h.send(req)
	assert.Equal(t, ReasonSessionExpired, out.Reason)
	assert.Equal(t, CodeSessionExpired, out.Error.Code)

	assert.Empty(t, h.docs.saved)
	assert.Empty(t, h.limiter.keys, "rate limit is checked only after the session")
}

func TestRateLimitExceeded(t *testing.T) {
	h := newHarness(t)
	h.limiter.deny = true
	h.limiter.retryAfter = 42

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})

	assert.Equal(t, ReasonRateLimit, out.Reason)
	require.Len(t, h.emit.errs, 1)
	e := h.emit.errs[0]
	assert.Equal(t, CodeRateLimitExceeded, e.Code)
	require.NotNil(t, e.RetryAfter)
	assert.Equal(t, 42, *e.RetryAfter)
	assert.Empty(t, h.docs.saved)
}

func TestAuthorizationFailures(t *testing.T) {
	h := newHarness(t)
	h.sessions.tokens["ghost"] = "g"
	h.sessions.tokens["bob"] = "b"

	h.caller = &Identity{UserID: "ghost", SessionToken: "g"}
	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonUserNotFound, out.Reason)
	assert.Equal(t, CodeMessageError, out.Error.Code)

	h.caller = &Identity{UserID: "bob", SessionToken: "b"}
	out = h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonRoomAccessDenied, out.Reason)

	h.caller = &Identity{UserID: "alice", SessionToken: "tok"}
	out = h.send(&ChatMessageRequest{Room: "missing", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonRoomAccessDenied, out.Reason)

	assert.Empty(t, h.docs.saved)
	assert.Empty(t, h.bc.sent)
}

func TestBannedWordRejected(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("what a SCAM this is")})
	assert.Equal(t, ReasonBannedWord, out.Reason)
	assert.Equal(t, CodeMessageRejected, out.Error.Code)

	out = h.send(&ChatMessageRequest{
		Room:     "r1",
		Type:     "file",
		Content:  ptr("badword caption"),
		FileData: &FileData{Key: "k"},
	})
	assert.Equal(t, ReasonBannedWord, out.Reason)

	assert.Empty(t, h.docs.saved)
	assert.Empty(t, h.bc.sent)
}

func TestFileMessage(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{
		Room: "r1",
		Type: "file",
		FileData: &FileData{
			Key:          "uploads/abc.png",
			OriginalName: "cat.png",
			Mimetype:     "image/png",
			Size:         2048,
		},
	})

	require.Equal(t, StatusSuccess, out.Status)
	require.Len(t, h.docs.saved, 1)
	saved := h.docs.saved[0]
	assert.Equal(t, models.MessageTypeFile, saved.Type)
	assert.Equal(t, "", saved.Content)
	require.NotNil(t, saved.File)
	assert.Equal(t, "uploads/abc.png", saved.File.Key)
	assert.Equal(t, int64(2048), saved.File.Size)

	resp := h.bc.sent[0].payload.(MessageResponse)
	require.NotNil(t, resp.File)
	assert.Equal(t, "https://cdn.example.com/uploads/abc.png", resp.File.FileURL)
	assert.Equal(t, "cat.png", resp.File.FileName)
	assert.True(t, resp.File.Previewable)
	assert.Equal(t, "Alice", resp.File.User)
}

func TestFileMessageWithoutKey(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "file", FileData: &FileData{OriginalName: "x"}})
	assert.Equal(t, ReasonInvalidFileData, out.Reason)
	assert.Equal(t, CodeMessageError, out.Error.Code)

	out = h.send(&ChatMessageRequest{Room: "r1", Type: "file", Content: ptr("caption")})
	assert.Equal(t, ReasonInvalidFileData, out.Reason)

	assert.Empty(t, h.docs.saved)
}

func TestUnsupportedType(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "sticker", Content: ptr("x")})
	assert.Equal(t, ReasonUnsupportedType, out.Reason)
	assert.Equal(t, CodeMessageError, out.Error.Code)
	assert.Empty(t, h.docs.saved)
}

func TestInfrastructureErrorsAreContained(t *testing.T) {
	h := newHarness(t)
	h.docs.saveErr = errors.New("connection refused")

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonException, out.Reason)
	require.Len(t, h.emit.errs, 1)
	assert.Equal(t, CodeMessageError, h.emit.errs[0].Code)
	assert.Equal(t, genericErrorMessage, h.emit.errs[0].Message)
	assert.Empty(t, h.bc.sent)

	h.docs.saveErr = nil
	h.bc.err = errors.New("redis down")
	out = h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonException, out.Reason)

	h.sessions.validErr = errors.New("timeout")
	out = h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonException, out.Reason)
	assert.Equal(t, genericErrorMessage, out.Error.Message)
}

func TestTimeoutIsReportedToCaller(t *testing.T) {
	h := newHarness(t)
	h.docs.saveErr = fmt.Errorf("save message: %w", context.DeadlineExceeded)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, ReasonException, out.Reason)
	require.Len(t, h.emit.errs, 1)
	assert.Equal(t, CodeMessageError, h.emit.errs[0].Code)
	assert.Equal(t, timeoutErrorMessage, h.emit.errs[0].Message)
}

func TestPanicIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.docs.panicOn = "user"

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, ReasonException, out.Reason)
	require.Len(t, h.emit.errs, 1)
}

func TestMentionsNotifiedAfterBroadcast(t *testing.T) {
	h := newHarness(t)

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hey @wayneAI and @bob, @wayneAI")})
	require.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, []string{"wayneAI", "bob"}, h.docs.saved[0].Mentions)

	select {
	case c := <-h.mentions.calls:
		assert.Equal(t, []string{"wayneAI", "bob"}, c.Mentions)
	case <-time.After(time.Second):
		t.Fatal("mention hook not invoked")
	}
}

func TestActivityRefreshFailureDoesNotFail(t *testing.T) {
	h := newHarness(t)
	h.sessions.touchErrs = errors.New("redis down")

	out := h.send(&ChatMessageRequest{Room: "r1", Type: "text", Content: ptr("hello")})
	assert.Equal(t, StatusSuccess, out.Status)
}

func TestParseContent(t *testing.T) {
	c := ParseContent(nil)
	assert.True(t, c.Empty())
	assert.NotNil(t, c.Mentions)

	c = ParseContent(ptr("  @ann hi @ann. @b-o_b  "))
	assert.Equal(t, "@ann hi @ann. @b-o_b", c.Text)
	assert.Equal(t, []string{"ann", "b-o_b"}, c.Mentions)
}
