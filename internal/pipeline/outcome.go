package pipeline

import (
	"fmt"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// Error codes sent to the originating caller.
const (
	CodeMessageError      = "MESSAGE_ERROR"
	CodeSessionExpired    = "SESSION_EXPIRED"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeMessageRejected   = "MESSAGE_REJECTED"
)

// Outcome labels used in logs and metrics.
const (
	ReasonNullData         = "null_data"
	ReasonSessionNull      = "session_null"
	ReasonSessionExpired   = "session_expired"
	ReasonRateLimit        = "rate_limit"
	ReasonUserNotFound     = "user_not_found"
	ReasonRoomAccessDenied = "room_access_denied"
	ReasonBannedWord       = "banned_word"
	ReasonInvalidFileData  = "invalid_file_data"
	ReasonUnsupportedType  = "unsupported_type"
	ReasonException        = "exception"
)

// Terminal statuses.
const (
	StatusSuccess = "success"
	StatusIgnored = "ignored"
	StatusError   = "error"
)

const (
	genericErrorMessage = "an error occurred while sending the message"
	timeoutErrorMessage = "the message could not be processed in time"
)

// ErrorPayload is the body of an outbound error event.
type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}

// Failure is an expected rejection of a message attempt.
type Failure struct {
	Code       string
	Reason     string
	Message    string
	RetryAfter int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Code, f.Reason, f.Message)
}

// Payload renders the failure for the caller.
func (f *Failure) Payload() ErrorPayload {
	p := ErrorPayload{Code: f.Code, Message: f.Message}
	if f.Code == CodeRateLimitExceeded {
		retry := f.RetryAfter
		p.RetryAfter = &retry
	}
	return p
}

func fail(code, reason, message string) *Failure {
	return &Failure{Code: code, Reason: reason, Message: message}
}

// Outcome is the terminal result of one pipeline run.
type Outcome struct {
	Status  string
	Reason  string          // failure reason; empty on success
	Message *models.Message // persisted message on success
	Error   *ErrorPayload   // what the caller was sent, if anything
}
