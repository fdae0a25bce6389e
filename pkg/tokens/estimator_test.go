package tokens

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/cricket/pkg/conversation"
	"github.com/go-go-golems/cricket/pkg/session"
)

var _ session.Estimator = (*Estimator)(nil)

func TestCount(t *testing.T) {
	est, err := NewEstimator()
	require.NoError(t, err)

	n, err := est.Count("Hello, world!")
	require.NoError(t, err)
	require.Greater(t, n, 0)

	empty, err := est.Count("")
	require.NoError(t, err)
	require.Equal(t, 0, empty)
}

func TestCountLongerTextCountsMore(t *testing.T) {
	est, err := NewEstimator()
	require.NoError(t, err)

	short, err := est.Count("one sentence")
	require.NoError(t, err)
	long, err := est.Count("one sentence, then another sentence, then a third sentence")
	require.NoError(t, err)
	require.Greater(t, long, short)
}

func TestCountMessages(t *testing.T) {
	est, err := NewEstimator()
	require.NoError(t, err)

	msgs := []conversation.Message{
		{Role: conversation.RoleUser, Content: "What is the weather in Paris?"},
		{
			Role:    conversation.RoleAssistant,
			Content: "Let me check.",
			ToolCalls: []conversation.ToolCall{
				{ID: "call-1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)},
			},
		},
	}

	total, err := est.CountMessages(msgs)
	require.NoError(t, err)

	contentOnly := 0
	for _, m := range msgs {
		n, err := est.Count(m.Content)
		require.NoError(t, err)
		contentOnly += n
	}
	require.Greater(t, total, contentOnly, "tool call traffic should add to the estimate")
}

func TestNilEstimator(t *testing.T) {
	var est *Estimator
	_, err := est.Count("anything")
	require.Error(t, err)
}

func TestUnknownEncoding(t *testing.T) {
	_, err := NewEstimatorWithEncoding("no-such-encoding")
	require.Error(t, err)

	_, err = NewEstimatorWithEncoding("")
	require.Error(t, err)
}
