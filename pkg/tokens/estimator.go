// Package tokens estimates prompt sizes with the tiktoken BPE tables.
// Estimates are client-side only; the server reports authoritative usage
// on the done event of each exchange.
package tokens

import (
	"github.com/pkg/errors"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

// DefaultEncoding is the cl100k BPE used by current chat models.
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens for a fixed encoding. Loading the encoding is
// expensive, so construct once and share; Count is safe for concurrent use.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the default encoding.
func NewEstimator() (*Estimator, error) {
	return NewEstimatorWithEncoding(DefaultEncoding)
}

// NewEstimatorWithEncoding loads the named tiktoken encoding.
func NewEstimatorWithEncoding(name string) (*Estimator, error) {
	if name == "" {
		return nil, errors.New("token estimator: encoding name is required")
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, errors.Wrapf(err, "token estimator: load encoding %s", name)
	}
	return &Estimator{enc: enc}, nil
}

// Count returns the token count of text under the estimator's encoding.
func (e *Estimator) Count(text string) (int, error) {
	if e == nil || e.enc == nil {
		return 0, errors.New("token estimator is not initialized")
	}
	return len(e.enc.Encode(text, nil, nil)), nil
}

// CountMessages sums token counts across a transcript. Tool call arguments
// count too since they ride along on every resend of the conversation.
func (e *Estimator) CountMessages(msgs []conversation.Message) (int, error) {
	if e == nil || e.enc == nil {
		return 0, errors.New("token estimator is not initialized")
	}
	total := 0
	for _, m := range msgs {
		total += len(e.enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(e.enc.Encode(tc.Name, nil, nil))
			total += len(e.enc.Encode(string(tc.Arguments), nil, nil))
		}
	}
	return total, nil
}
