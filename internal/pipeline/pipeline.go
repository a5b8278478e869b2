// Package pipeline validates, moderates, persists and fans out inbound chat
// messages. One Handle call processes one chatMessage event.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/ratelimit"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/session"
)

// SessionValidator checks a caller's claimed session.
type SessionValidator interface {
	Validate(ctx context.Context, userID, token string) (session.Result, error)
	UpdateLastActivity(ctx context.Context, userID string) error
}

// RateLimiter counts message events per user.
type RateLimiter interface {
	Check(ctx context.Context, key string, maxEvents int, window time.Duration) (ratelimit.Result, error)
}

// ContentFilter detects banned words.
type ContentFilter interface {
	ContainsBannedWord(text string) bool
}

// Documents is the persistent store of users, rooms and messages.
type Documents interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

// Broadcaster delivers an event to every subscriber of a room.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID, event string, payload any) error
}

// FileURLResolver maps a storage key to a URL clients can fetch.
type FileURLResolver interface {
	PublicURL(key string) string
}

// MentionNotifier is invoked after a message with mentions is broadcast.
type MentionNotifier interface {
	Notify(ctx context.Context, roomID, userID string, content Content)
}

// Emitter sends an event back to the originating connection.
type Emitter interface {
	Emit(event string, payload any)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Sessions    SessionValidator
	Limiter     RateLimiter
	Filter      ContentFilter
	Documents   Documents
	Broadcaster Broadcaster
	Files       FileURLResolver
	Mentions    MentionNotifier // optional
}

// Config holds the per-user message budget.
type Config struct {
	RateLimit  int
	RateWindow time.Duration
}

// DefaultConfig mirrors the production budget of 10000 messages a minute.
func DefaultConfig() Config {
	return Config{RateLimit: 10000, RateWindow: time.Minute}
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.With().Str("component", "pipeline").Logger()}
}

// Handle runs one message attempt through every stage. Failures are
// reported to emit and never returned; the outcome describes what happened.
func (p *Pipeline) Handle(ctx context.Context, caller *Identity, req *ChatMessageRequest, emit Emitter) (out Outcome) {
	start := time.Now()
	msgType := "unknown"
	if req != nil {
		switch t := req.MessageType(); models.MessageType(t) {
		case models.MessageTypeText, models.MessageTypeFile:
			msgType = t
		}
	}

	defer func() {
		if r := recover(); r != nil {
			out = p.exception(fmt.Errorf("panic: %v", r), caller, emit)
		}
		p.record(out, msgType, time.Since(start))
	}()

	msg, err := p.process(ctx, caller, req)
	switch {
	case err == nil && msg == nil:
		p.logger.Debug().
			Str("room", req.Room).
			Str("user", caller.UserID).
			Str("type", msgType).
			Msg("empty message ignored")
		return Outcome{Status: StatusIgnored}

	case err == nil:
		return Outcome{Status: StatusSuccess, Message: msg}
	}

	var f *Failure
	if errors.As(err, &f) {
		payload := f.Payload()
		send(emit, payload)
		p.logFailure(f, caller)
		return Outcome{Status: StatusError, Reason: f.Reason, Error: &payload}
	}
	return p.exception(err, caller, emit)
}

func (p *Pipeline) process(ctx context.Context, caller *Identity, req *ChatMessageRequest) (*models.Message, error) {
	if req == nil {
		return nil, fail(CodeMessageError, ReasonNullData, "message data is missing")
	}

	if caller == nil {
		return nil, fail(CodeSessionExpired, ReasonSessionNull, "session expired, please log in again")
	}
	validation, err := p.deps.Sessions.Validate(ctx, caller.UserID, caller.SessionToken)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if !validation.Valid {
		return nil, fail(CodeSessionExpired, ReasonSessionExpired, "session expired, please log in again")
	}

	limit, err := p.deps.Limiter.Check(ctx, "chat:"+caller.UserID, p.cfg.RateLimit, p.cfg.RateWindow)
	if err != nil {
		return nil, fmt.Errorf("check rate limit: %w", err)
	}
	if !limit.Allowed {
		f := fail(CodeRateLimitExceeded, ReasonRateLimit, "message rate limit exceeded, please try again later")
		f.RetryAfter = limit.RetryAfter
		return nil, f
	}

	sender, err := p.deps.Documents.GetUserByID(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	if sender == nil {
		return nil, fail(CodeMessageError, ReasonUserNotFound, "user not found")
	}

	room, err := p.deps.Documents.GetRoom(ctx, req.Room)
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	if room == nil || !room.HasParticipant(sender.ID) {
		return nil, fail(CodeMessageError, ReasonRoomAccessDenied, "no access to this room")
	}

	content := ParseContent(req.Content)

	if p.deps.Filter.ContainsBannedWord(content.Text) {
		return nil, fail(CodeMessageRejected, ReasonBannedWord, "messages containing banned words cannot be sent")
	}

	d, err := newDraft(req.MessageType(), content, req.FileData)
	if err != nil || d == nil {
		return nil, err
	}

	// Once persistence starts the attempt runs to completion.
	ctx = context.WithoutCancel(ctx)

	saved, err := p.deps.Documents.SaveMessage(ctx, build(d, room.ID, sender.ID))
	if err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	resp := RenderMessage(saved, sender, p.deps.Files)
	if err := p.deps.Broadcaster.Broadcast(ctx, room.ID, EventMessage, resp); err != nil {
		return nil, fmt.Errorf("broadcast message %s: %w", saved.ID, err)
	}

	p.afterBroadcast(ctx, room.ID, sender.ID, content)

	p.logger.Debug().
		Str("message_id", saved.ID).
		Str("type", string(saved.Type)).
		Str("room", room.ID).
		Msg("message processed")
	return saved, nil
}

// afterBroadcast runs the side effects that must not affect the outcome.
func (p *Pipeline) afterBroadcast(ctx context.Context, roomID, userID string, content Content) {
	if p.deps.Mentions != nil && len(content.Mentions) > 0 {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error().Interface("panic", r).Str("room", roomID).Msg("mention hook panicked")
				}
			}()
			p.deps.Mentions.Notify(ctx, roomID, userID, content)
		}()
	}

	if err := p.deps.Sessions.UpdateLastActivity(ctx, userID); err != nil {
		p.logger.Warn().Err(err).Str("user", userID).Msg("failed to refresh session activity")
	}
}

func (p *Pipeline) exception(err error, caller *Identity, emit Emitter) Outcome {
	ev := p.logger.Error().Err(err)
	if caller != nil {
		ev = ev.Str("user", caller.UserID)
	}
	ev.Msg("message handling error")

	payload := ErrorPayload{Code: CodeMessageError, Message: exceptionMessage(err)}
	send(emit, payload)
	return Outcome{Status: StatusError, Reason: ReasonException, Error: &payload}
}

// exceptionMessage describes an unexpected error to the caller. Only
// timeouts are named; other internal error text stays in the log.
func exceptionMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutErrorMessage
	}
	return genericErrorMessage
}

func send(emit Emitter, payload ErrorPayload) {
	if emit != nil {
		emit.Emit(EventError, payload)
	}
}

func (p *Pipeline) logFailure(f *Failure, caller *Identity) {
	ev := p.logger.Info()
	if f.Code == CodeRateLimitExceeded || f.Code == CodeMessageRejected {
		ev = p.logger.Warn()
	}
	if caller != nil {
		ev = ev.Str("user", caller.UserID)
	}
	if f.RetryAfter > 0 {
		ev = ev.Int("retry_after", f.RetryAfter)
	}
	ev.Str("code", f.Code).Str("reason", f.Reason).Msg("message rejected")
}

func (p *Pipeline) record(out Outcome, msgType string, elapsed time.Duration) {
	label := out.Reason
	if out.Status != StatusError {
		label = msgType
	}
	metrics.MessagesTotal.WithLabelValues(out.Status, label).Inc()
	if out.Status == StatusError {
		metrics.MessageErrors.WithLabelValues(out.Reason).Inc()
	}
	if out.Reason == ReasonRateLimit {
		metrics.RateLimitHits.WithLabelValues(EventChatMessage).Inc()
	}
	metrics.MessageProcessingDuration.WithLabelValues(out.Status, msgType).Observe(elapsed.Seconds())
}
