package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/pkg/anthropic"
)

const researchSystemPrompt = `You are a B2B sales research analyst. Given recent news about a company, identify likely pain points and the roles that would sit on a buying committee for sales-engagement software. Respond with JSON only, no prose:
{"pain_points": ["..."], "buying_committee": [{"title": "...", "role": "champion|decision_maker|influencer|blocker"}]}`

// Synthesizer turns merged news items into qualitative research signals via
// a single Claude call. Entirely optional: a nil Synthesizer or any failure
// leaves the research sub-record with raw news only.
type Synthesizer struct {
	client anthropic.Client
	model  string
}

// NewSynthesizer creates a research synthesizer using the given model.
func NewSynthesizer(client anthropic.Client, model string) *Synthesizer {
	return &Synthesizer{client: client, model: model}
}

type researchAnswer struct {
	PainPoints      []string `json:"pain_points"`
	BuyingCommittee []struct {
		Title string `json:"title"`
		Role  string `json:"role"`
	} `json:"buying_committee"`
}

// Synthesize fills pain points and buying-committee roles on the research
// sub-record from its news items. No news means nothing to synthesize.
func (s *Synthesizer) Synthesize(ctx context.Context, rec *model.SignalRecord) error {
	if len(rec.Research.NewsItems) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n\nRecent news:\n", rec.Company.Name)
	for _, item := range rec.Research.NewsItems {
		fmt.Fprintf(&b, "- %s (%s)\n", item.Title, item.PublishedAt.Format("2006-01-02"))
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 1024,
		System:    researchSystemPrompt,
		Messages:  []anthropic.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return eris.Wrap(err, "research: synthesis call")
	}
	resp.Usage.LogCost(s.model, "research_synthesis")

	var answer researchAnswer
	if err := json.Unmarshal([]byte(extractJSON(resp.Text())), &answer); err != nil {
		return eris.Wrap(err, "research: parse synthesis answer")
	}

	rec.Research.PainPoints = answer.PainPoints
	for _, member := range answer.BuyingCommittee {
		if member.Title == "" {
			continue
		}
		rec.Research.BuyingCommittee = append(rec.Research.BuyingCommittee, model.CommitteeRole{
			Title: member.Title,
			Role:  member.Role,
		})
	}

	zap.L().Debug("research: synthesis complete",
		zap.String("entity_id", rec.EntityID),
		zap.Int("pain_points", len(answer.PainPoints)),
		zap.Int("committee_roles", len(answer.BuyingCommittee)),
	)
	return nil
}

// extractJSON trims any text around the first top-level JSON object. Models
// occasionally wrap answers in markdown fences despite instructions.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
