// Package mention dispatches @name mentions found in chat messages.
package mention

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

// LogNotifier records mentions of configured targets, such as assistant
// bots, for downstream consumers tailing the log.
type LogNotifier struct {
	logger  zerolog.Logger
	targets map[string]bool // lower-cased; empty means every mention
}

var _ pipeline.MentionNotifier = (*LogNotifier)(nil)

// NewLogNotifier creates a notifier restricted to targets.
func NewLogNotifier(logger zerolog.Logger, targets []string) *LogNotifier {
	n := &LogNotifier{
		logger:  logger.With().Str("component", "mention").Logger(),
		targets: make(map[string]bool, len(targets)),
	}
	for _, t := range targets {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			n.targets[t] = true
		}
	}
	return n
}

// Notify dispatches every matching mention in content.
func (n *LogNotifier) Notify(ctx context.Context, roomID, userID string, content pipeline.Content) {
	for _, name := range content.Mentions {
		if ctx.Err() != nil {
			return
		}
		if len(n.targets) > 0 && !n.targets[strings.ToLower(name)] {
			continue
		}
		metrics.MentionsDispatched.Inc()
		n.logger.Info().
			Str("target", name).
			Str("room", roomID).
			Str("user", userID).
			Int("length", len(content.Text)).
			Msg("mention dispatched")
	}
}
