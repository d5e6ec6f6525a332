package connector

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// ProfileConnector normalizes a professional-network profile service,
// resolving by profile URL when known, otherwise by name and company.
type ProfileConnector struct {
	rest *restClient
}

// NewProfile builds the profile-service connector from a stored connection.
func NewProfile(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" {
		return nil, eris.New("profile-service: base URL not configured")
	}
	return &ProfileConnector{
		rest: newRESTClient("profile-service", conn.BaseURL, conn.APIKey, 2),
	}, nil
}

func (c *ProfileConnector) Name() string { return "profile-service" }

func (c *ProfileConnector) Scope() Scope { return ScopePerson }

func (c *ProfileConnector) TestConnection(ctx context.Context) error {
	return c.rest.getJSON(ctx, "/v1/status", nil, nil)
}

type profileResponse struct {
	ProfileURL   string   `json:"profile_url"`
	Headline     string   `json:"headline"`
	Seniority    string   `json:"seniority"`
	Department   string   `json:"department"`
	Skills       []string `json:"skills"`
	TenureMonths int      `json:"current_tenure_months"`
	CompanyName  string   `json:"company_name"`
}

func (c *ProfileConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	q := url.Values{}
	switch {
	case target.LinkedInURL != "":
		q.Set("url", target.LinkedInURL)
	case target.LastName != "" && target.Company != "":
		q.Set("name", target.FirstName+" "+target.LastName)
		q.Set("company", target.Company)
	default:
		return model.RawFields{}, nil
	}

	var profile profileResponse
	if err := c.rest.getJSON(ctx, "/v1/profile/lookup", q, &profile); err != nil {
		if eris.Is(err, ErrNotFound) {
			return model.RawFields{}, nil
		}
		return nil, err
	}

	fields := model.RawFields{}
	putString(fields, "linkedin_url", profile.ProfileURL)
	putString(fields, "title", profile.Headline)
	putString(fields, "seniority", profile.Seniority)
	putString(fields, "department", profile.Department)
	putString(fields, "company_name", profile.CompanyName)
	if len(profile.Skills) > 0 {
		fields["skills"] = profile.Skills
	}
	if profile.TenureMonths > 0 {
		fields["tenure_months"] = profile.TenureMonths
	}
	return fields, nil
}
