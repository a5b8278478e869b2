// Package session tracks the single active login of each user in the
// shared store so any node can validate a socket's claimed session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/crypto"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/store"
)

// Reasons a session is rejected.
const (
	ReasonNoSuchSession = "no_such_session"
	ReasonTokenMismatch = "token_mismatch"
)

const DefaultTTL = 24 * time.Hour

// Result is the outcome of a validation.
type Result struct {
	Valid  bool
	Reason string
}

// Validator validates and maintains session records.
type Validator struct {
	kv  store.KV
	ttl time.Duration
	now func() time.Time
}

// NewValidator creates a Validator. Records expire after ttl without activity.
func NewValidator(kv store.KV, ttl time.Duration) *Validator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Validator{kv: kv, ttl: ttl, now: time.Now}
}

func sessionKey(userID string) string {
	return "session:" + userID
}

// Create starts a new session for userID, superseding any previous one.
func (v *Validator) Create(ctx context.Context, userID string) (*models.SessionRecord, error) {
	token, err := crypto.NewToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := v.now().UTC()
	rec := &models.SessionRecord{
		UserID:       userID,
		Token:        token,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := v.kv.Set(ctx, sessionKey(userID), rec, v.ttl); err != nil {
		return nil, err
	}
	return rec, nil
}

// Validate reports whether token is the current session of userID.
// A missing record is a negative result, not an error.
func (v *Validator) Validate(ctx context.Context, userID, token string) (Result, error) {
	var rec models.SessionRecord
	ok, err := v.kv.Get(ctx, sessionKey(userID), &rec)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Reason: ReasonNoSuchSession}, nil
	}
	if rec.Token != token {
		return Result{Reason: ReasonTokenMismatch}, nil
	}
	return Result{Valid: true}, nil
}

// UpdateLastActivity refreshes the activity timestamp and expiry of the
// current session. The write is skipped and retried if a login replaces the
// record meanwhile, so the token stored is always the latest one. A missing
// session is ignored.
func (v *Validator) UpdateLastActivity(ctx context.Context, userID string) error {
	var rec models.SessionRecord
	return v.kv.Update(ctx, sessionKey(userID), &rec, v.ttl, func(found bool) (bool, error) {
		if !found {
			return false, nil
		}
		rec.LastActivity = v.now().UTC()
		return true, nil
	})
}

// Remove ends the session of userID.
func (v *Validator) Remove(ctx context.Context, userID string) error {
	return v.kv.Delete(ctx, sessionKey(userID))
}
