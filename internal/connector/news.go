package connector

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// NewsConnector normalizes a news/intent service into news items plus
// derived intent signals (funding rounds, job postings, plain mentions).
type NewsConnector struct {
	rest *restClient
}

// NewNews builds the news-service connector from a stored connection.
func NewNews(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" {
		return nil, eris.New("news-service: base URL not configured")
	}
	return &NewsConnector{
		rest: newRESTClient("news-service", conn.BaseURL, conn.APIKey, 5),
	}, nil
}

func (c *NewsConnector) Name() string { return "news-service" }

func (c *NewsConnector) Scope() Scope { return ScopeCompany }

func (c *NewsConnector) TestConnection(ctx context.Context) error {
	return c.rest.getJSON(ctx, "/v1/health", nil, nil)
}

type newsArticle struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Confidence  int       `json:"confidence"`
	PublishedAt time.Time `json:"published_at"`
}

type newsResponse struct {
	Articles []newsArticle `json:"articles"`
}

func (c *NewsConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if target.Domain == "" {
		return model.RawFields{}, nil
	}

	q := url.Values{}
	q.Set("domain", target.Domain)
	q.Set("limit", strconv.Itoa(25))

	var resp newsResponse
	if err := c.rest.getJSON(ctx, "/v1/news", q, &resp); err != nil {
		if eris.Is(err, ErrNotFound) {
			return model.RawFields{}, nil
		}
		return nil, err
	}
	if len(resp.Articles) == 0 {
		return model.RawFields{}, nil
	}

	items := make([]model.NewsItem, 0, len(resp.Articles))
	var signals []model.IntentSignal
	for _, a := range resp.Articles {
		if a.URL == "" {
			continue
		}
		items = append(items, model.NewsItem{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source,
			PublishedAt: a.PublishedAt,
		})
		signals = append(signals, model.IntentSignal{
			Type:        signalTypeForCategory(a.Category),
			Source:      c.Name(),
			Confidence:  clampConfidence(a.Confidence),
			Timestamp:   a.PublishedAt,
			Description: a.Title,
			Metadata:    map[string]any{"url": a.URL},
		})
	}

	fields := model.RawFields{}
	if len(items) > 0 {
		fields["news_items"] = items
	}
	if len(signals) > 0 {
		fields["intent_signals"] = signals
	}
	return fields, nil
}

func signalTypeForCategory(category string) model.IntentSignalType {
	switch category {
	case "funding":
		return model.IntentFunding
	case "hiring", "job_posting":
		return model.IntentJobPosting
	default:
		return model.IntentNewsMention
	}
}

func clampConfidence(c int) int {
	switch {
	case c <= 0:
		return 50
	case c > 100:
		return 100
	default:
		return c
	}
}
