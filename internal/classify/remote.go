package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/internal/metrics"
	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
	"github.com/go-resty/resty/v2"
)

// Remote calls an external intent classification service. Any transport
// or contract failure is served by the deterministic fallback for the
// same request; classification is never fatal to a session.
type Remote struct {
	client   *resty.Client
	fallback ports.Classifier
	logger   *slog.Logger
}

// NewRemote creates a remote classifier for the given endpoint.
func NewRemote(url, apiKey string, fallback ports.Classifier, logger *slog.Logger) *Remote {
	client := resty.New().
		SetBaseURL(url).
		SetTimeout(5 * time.Second)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &Remote{client: client, fallback: fallback, logger: logger}
}

type classifyRequest struct {
	Text    string                   `json:"text"`
	Intents map[string]domain.Intent `json:"intents"`
	Context map[string]any           `json:"context,omitempty"`
}

func (r *Remote) Classify(ctx context.Context, text string, intents map[string]domain.Intent, sessionCtx map[string]any) (domain.IntentResult, error) {
	var result domain.IntentResult
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(classifyRequest{Text: text, Intents: intents, Context: sessionCtx}).
		SetResult(&result).
		Post("/classify")

	switch {
	case err != nil:
		r.logger.Warn("remote classifier unreachable, using fallback", "err", err)
	case resp.IsError():
		r.logger.Warn("remote classifier error, using fallback", "status", resp.StatusCode())
	case result.Name == "" || result.Confidence < 0 || result.Confidence > 1:
		r.logger.Warn("remote classifier returned invalid result, using fallback",
			"intent", result.Name, "confidence", result.Confidence)
	default:
		if _, ok := intents[result.Name]; !ok {
			r.logger.Warn("remote classifier returned unknown intent, using fallback", "intent", result.Name)
			break
		}
		return result, nil
	}

	metrics.ClassifierFallbacks.Inc()
	return r.fallback.Classify(ctx, text, intents, sessionCtx)
}

var _ ports.Classifier = (*Remote)(nil)

// FromConfig picks the remote classifier when a URL is configured and
// the deterministic fallback otherwise.
func FromConfig(url, apiKey string, logger *slog.Logger) ports.Classifier {
	fallback := NewDeterministic()
	if url == "" {
		return fallback
	}
	logger.Info(fmt.Sprintf("using remote classifier at %s", url))
	return NewRemote(url, apiKey, fallback, logger)
}
