package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hearthkit/family-sync/internal/service/ingestion"
)

const classifySystem = `You decide whether an email announces a schedulable family activity
(a class, practice, game, appointment, school event, deadline or similar with a date).
Answer with a JSON object and nothing else: {"is_activity": bool, "confidence": 0..1, "reason": "short"}.`

// Classifier implements ingestion.PaidClassifier with a small model.
type Classifier struct {
	inv     Invoker
	modelID string
}

// NewClassifier creates a classifier. An empty modelID uses
// DefaultClassifyModel.
func NewClassifier(inv Invoker, modelID string) *Classifier {
	if modelID == "" {
		modelID = DefaultClassifyModel
	}
	return &Classifier{inv: inv, modelID: modelID}
}

// ClassifyActivity implements ingestion.PaidClassifier.
func (c *Classifier) ClassifyActivity(ctx context.Context, in ingestion.PaidInput) (ingestion.PaidVerdict, error) {
	prompt := fmt.Sprintf("Subject: %s\nFrom: %s\nPreview: %s", in.Subject, in.Sender, in.Snippet)
	text, err := invoke(ctx, c.inv, c.modelID, classifySystem, []ContentBlock{{Type: "text", Text: prompt}}, 200)
	if err != nil {
		return ingestion.PaidVerdict{}, err
	}
	payload, err := jsonPayload(text, '{', '}')
	if err != nil {
		return ingestion.PaidVerdict{}, err
	}
	var v ingestion.PaidVerdict
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return ingestion.PaidVerdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	v.Confidence = clampConfidence(v.Confidence)
	return v, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
