package mention

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/pipeline"
)

func TestNotifyFiltersTargets(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf), []string{" WayneAI ", ""})

	before := testutil.ToFloat64(metrics.MentionsDispatched)
	n.Notify(context.Background(), "r1", "alice", pipeline.Content{
		Text:     "@wayneAI @bob hello",
		Mentions: []string{"wayneAI", "bob"},
	})

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.MentionsDispatched))
	assert.Contains(t, buf.String(), `"target":"wayneAI"`)
	assert.NotContains(t, buf.String(), `"target":"bob"`)
}

func TestNotifyWithoutTargets(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf), nil)

	before := testutil.ToFloat64(metrics.MentionsDispatched)
	n.Notify(context.Background(), "r1", "alice", pipeline.Content{Mentions: []string{"a", "b"}})

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.MentionsDispatched))
}
