package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
	"github.com/sells-group/prospect-sync/pkg/anthropic"
)

type fakeAnthropic struct {
	lastReq anthropic.MessageRequest
	answer  string
	err     error
}

func (f *fakeAnthropic) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.answer}},
	}, nil
}

func newsRecord() *model.SignalRecord {
	rec := &model.SignalRecord{EntityID: "e1"}
	rec.Company.Name = "AcmeCo"
	rec.Research.NewsItems = []model.NewsItem{
		{Title: "AcmeCo raises Series B", URL: "https://news.example/a", PublishedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
	}
	return rec
}

func TestSynthesizeFillsResearch(t *testing.T) {
	fake := &fakeAnthropic{answer: `Here you go:
{"pain_points": ["scaling outbound"], "buying_committee": [{"title": "CRO", "role": "decision_maker"}, {"title": "", "role": "champion"}]}`}
	s := NewSynthesizer(fake, "claude-haiku-4-5-20251001")

	rec := newsRecord()
	require.NoError(t, s.Synthesize(context.Background(), rec))

	assert.Equal(t, []string{"scaling outbound"}, rec.Research.PainPoints)
	require.Len(t, rec.Research.BuyingCommittee, 1)
	assert.Equal(t, "CRO", rec.Research.BuyingCommittee[0].Title)
	assert.Equal(t, "decision_maker", rec.Research.BuyingCommittee[0].Role)

	assert.Contains(t, fake.lastReq.Messages[0].Content, "AcmeCo raises Series B")
	assert.Contains(t, fake.lastReq.Messages[0].Content, "2026-08-01")
}

func TestSynthesizeNoNewsIsNoOp(t *testing.T) {
	fake := &fakeAnthropic{}
	s := NewSynthesizer(fake, "claude-haiku-4-5-20251001")

	rec := &model.SignalRecord{EntityID: "e1"}
	require.NoError(t, s.Synthesize(context.Background(), rec))
	assert.Empty(t, fake.lastReq.Messages)
}

func TestSynthesizeUnparseableAnswer(t *testing.T) {
	fake := &fakeAnthropic{answer: "I cannot help with that."}
	s := NewSynthesizer(fake, "claude-haiku-4-5-20251001")

	rec := newsRecord()
	err := s.Synthesize(context.Background(), rec)
	assert.Error(t, err)
	assert.Empty(t, rec.Research.PainPoints)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a": 1}`, extractJSON("```json\n{\"a\": 1}\n```"))
	assert.Equal(t, `{"a": {"b": 2}}`, extractJSON(`prefix {"a": {"b": 2}} suffix`))
	assert.Equal(t, "no braces here", extractJSON("no braces here"))
}
