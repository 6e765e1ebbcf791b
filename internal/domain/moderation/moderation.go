package moderation

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the slice of the OpenAI API the gate needs.
type Client interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// Verdict is the outcome of classifying a transcript.
type Verdict struct {
	// Score is the highest category score among categories the provider
	// flagged. Zero when nothing was flagged.
	Score float64

	// Flagged means the conversation must be blocked and queued for
	// review.
	Flagged bool

	// NeedsReview means the conversation proceeds but is queued for a
	// human to look at.
	NeedsReview bool
}

// Gate classifies conversation content against flag and review thresholds.
// The review threshold never exceeds the flag threshold, so a flagged
// verdict always also needs review.
type Gate struct {
	client          Client
	flagThreshold   float64
	reviewThreshold float64
}

// NewGate creates a moderation gate.
func NewGate(client Client, flagThreshold, reviewThreshold float64) *Gate {
	return &Gate{
		client:          client,
		flagThreshold:   flagThreshold,
		reviewThreshold: reviewThreshold,
	}
}

// Transcript joins the material to classify: the preset title, every prior
// user turn and the new prompt. Assistant output is not classified.
func Transcript(presetTitle string, priorUserTexts []string, prompt string) string {
	parts := make([]string, 0, len(priorUserTexts)+2)
	if presetTitle != "" {
		parts = append(parts, presetTitle)
	}
	parts = append(parts, priorUserTexts...)
	parts = append(parts, prompt)
	return strings.Join(parts, "\n\n")
}

// Classify runs the transcript through the provider's moderation endpoint
// and scores it against the thresholds.
func (g *Gate) Classify(ctx context.Context, transcript string) (Verdict, error) {
	resp, err := g.client.Moderations(ctx, openai.ModerationRequest{
		Model: openai.ModerationOmniLatest,
		Input: transcript,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation request: %w", err)
	}

	var score float64
	for _, result := range resp.Results {
		score = max(score, maxFlaggedScore(result))
	}

	return Verdict{
		Score:       score,
		Flagged:     score >= g.flagThreshold,
		NeedsReview: score >= g.reviewThreshold,
	}, nil
}

// maxFlaggedScore pairs each flagged category with its score and returns
// the highest. Scores of unflagged categories are ignored.
func maxFlaggedScore(r openai.Result) float64 {
	c, s := r.Categories, r.CategoryScores

	pairs := []struct {
		flagged bool
		score   float32
	}{
		{c.Hate, s.Hate},
		{c.HateThreatening, s.HateThreatening},
		{c.Harassment, s.Harassment},
		{c.HarassmentThreatening, s.HarassmentThreatening},
		{c.SelfHarm, s.SelfHarm},
		{c.SelfHarmIntent, s.SelfHarmIntent},
		{c.SelfHarmInstructions, s.SelfHarmInstructions},
		{c.Sexual, s.Sexual},
		{c.SexualMinors, s.SexualMinors},
		{c.Violence, s.Violence},
		{c.ViolenceGraphic, s.ViolenceGraphic},
	}

	var out float64
	for _, p := range pairs {
		if p.flagged {
			out = max(out, float64(p.score))
		}
	}
	return out
}
