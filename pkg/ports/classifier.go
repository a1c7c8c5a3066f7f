package ports

import (
	"context"

	"github.com/convoflow/convoflow/pkg/domain"
)

// Classifier maps user text to an intent from the flow's catalog.
// Implementations may be deterministic or remote; the engine is correct
// under any implementation returning a confidence in [0,1]. Low
// confidence is a valid output and never short-circuits transition
// matching.
type Classifier interface {
	Classify(ctx context.Context, text string, intents map[string]domain.Intent, sessionCtx map[string]any) (domain.IntentResult, error)
}
