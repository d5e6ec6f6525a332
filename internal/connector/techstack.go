package connector

import (
	"context"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// TechStackConnector normalizes a technology-fingerprinting service into a
// technology list plus tech-stack intent signals for recently adopted tools.
type TechStackConnector struct {
	rest *restClient
}

// NewTechStack builds the tech-fingerprint connector from a stored connection.
func NewTechStack(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" {
		return nil, eris.New("tech-fingerprint: base URL not configured")
	}
	return &TechStackConnector{
		rest: newRESTClient("tech-fingerprint", conn.BaseURL, conn.APIKey, 5),
	}, nil
}

func (c *TechStackConnector) Name() string { return "tech-fingerprint" }

func (c *TechStackConnector) Scope() Scope { return ScopeCompany }

func (c *TechStackConnector) TestConnection(ctx context.Context) error {
	return c.rest.getJSON(ctx, "/v1/health", nil, nil)
}

type techDetection struct {
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	Confidence    int       `json:"confidence"`
	FirstDetected time.Time `json:"first_detected"`
}

type techStackResponse struct {
	Technologies []techDetection `json:"technologies"`
}

// recentAdoptionWindow bounds which detections count as adoption signals
// rather than long-standing stack facts.
const recentAdoptionWindow = 90 * 24 * time.Hour

func (c *TechStackConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if target.Domain == "" {
		return model.RawFields{}, nil
	}

	q := url.Values{}
	q.Set("domain", target.Domain)

	var resp techStackResponse
	if err := c.rest.getJSON(ctx, "/v1/fingerprint", q, &resp); err != nil {
		if eris.Is(err, ErrNotFound) {
			return model.RawFields{}, nil
		}
		return nil, err
	}
	if len(resp.Technologies) == 0 {
		return model.RawFields{}, nil
	}

	now := time.Now().UTC()
	techs := make([]string, 0, len(resp.Technologies))
	var signals []model.IntentSignal
	for _, t := range resp.Technologies {
		if t.Name == "" {
			continue
		}
		techs = append(techs, t.Name)
		if !t.FirstDetected.IsZero() && now.Sub(t.FirstDetected) <= recentAdoptionWindow {
			signals = append(signals, model.IntentSignal{
				Type:        model.IntentTechStack,
				Source:      c.Name(),
				Confidence:  clampConfidence(t.Confidence),
				Timestamp:   t.FirstDetected,
				Description: "adopted " + t.Name,
				Metadata:    map[string]any{"category": t.Category},
			})
		}
	}

	fields := model.RawFields{}
	if len(techs) > 0 {
		fields["technologies"] = techs
	}
	if len(signals) > 0 {
		fields["intent_signals"] = signals
	}
	return fields, nil
}
