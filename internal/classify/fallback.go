package classify

import (
	"context"
	"math/rand"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
)

// hangOnSentinel forces a random intent at low confidence, used to
// exercise mis-classification paths in tests and demos.
const hangOnSentinel = "(HANG ON)"

const sentinelConfidence = 0.3

var tokenPattern = regexp.MustCompile(`[a-z0-9']+`)

// Deterministic is the reference pattern classifier: it scores each
// intent by the fraction of example tokens present in the lowercased
// user text, extracts the winning intent's declared slots, and returns
// the argmax.
type Deterministic struct {
	now func() time.Time
	rng *rand.Rand
}

// NewDeterministic creates the fallback classifier.
func NewDeterministic() *Deterministic {
	return &Deterministic{
		now: time.Now,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Classify implements ports.Classifier.
func (d *Deterministic) Classify(_ context.Context, text string, intents map[string]domain.Intent, _ map[string]any) (domain.IntentResult, error) {
	if len(intents) == 0 {
		return domain.IntentResult{}, nil
	}

	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)

	if strings.Contains(text, hangOnSentinel) {
		name := names[d.rng.Intn(len(names))]
		return domain.IntentResult{
			Name:       name,
			Confidence: sentinelConfidence,
			Slots:      ExtractSlots(text, intents[name].Slots, d.now()),
		}, nil
	}

	textTokens := tokenSet(text)
	best := names[0]
	bestScore := 0.0
	for _, name := range names {
		score := scoreIntent(textTokens, intents[name].Examples)
		if score > bestScore {
			best = name
			bestScore = score
		}
	}

	return domain.IntentResult{
		Name:       best,
		Confidence: bestScore,
		Slots:      ExtractSlots(text, intents[best].Slots, d.now()),
	}, nil
}

// scoreIntent is the maximum over examples of the fraction of example
// tokens present in the user text.
func scoreIntent(textTokens map[string]bool, examples []string) float64 {
	best := 0.0
	for _, example := range examples {
		tokens := tokenPattern.FindAllString(strings.ToLower(example), -1)
		if len(tokens) == 0 {
			continue
		}
		hits := 0
		for _, token := range tokens {
			if textTokens[token] {
				hits++
			}
		}
		if score := float64(hits) / float64(len(tokens)); score > best {
			best = score
		}
	}
	return best
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		set[token] = true
	}
	return set
}

var _ ports.Classifier = (*Deterministic)(nil)
