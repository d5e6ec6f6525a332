package connector

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// PeopleDataConnector normalizes a person-level data provider (contact and
// role facts keyed by email or name+company).
type PeopleDataConnector struct {
	rest *restClient
}

// NewPeopleData builds the people-data connector from a stored connection.
func NewPeopleData(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" {
		return nil, eris.New("people-data: base URL not configured")
	}
	return &PeopleDataConnector{
		rest: newRESTClient("people-data", conn.BaseURL, conn.APIKey, 5),
	}, nil
}

func (c *PeopleDataConnector) Name() string { return "people-data" }

func (c *PeopleDataConnector) Scope() Scope { return ScopePerson }

func (c *PeopleDataConnector) TestConnection(ctx context.Context) error {
	return c.rest.getJSON(ctx, "/v1/health", nil, nil)
}

type peopleDataPerson struct {
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Phone         string   `json:"phone"`
	DirectDial    string   `json:"direct_dial"`
	MobilePhone   string   `json:"mobile_phone"`
	LinkedInURL   string   `json:"linkedin_url"`
	TwitterURL    string   `json:"twitter_url"`
	Title         string   `json:"job_title"`
	Seniority     string   `json:"seniority"`
	Department    string   `json:"department"`
	Skills        []string `json:"skills"`
	TenureMonths  int      `json:"tenure_months"`
}

func (c *PeopleDataConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	q := url.Values{}
	switch {
	case target.Email != "":
		q.Set("email", target.Email)
	case target.LastName != "" && target.Company != "":
		q.Set("first_name", target.FirstName)
		q.Set("last_name", target.LastName)
		q.Set("company", target.Company)
	default:
		return model.RawFields{}, nil
	}

	var person peopleDataPerson
	if err := c.rest.getJSON(ctx, "/v1/person/enrich", q, &person); err != nil {
		if eris.Is(err, ErrNotFound) {
			return model.RawFields{}, nil
		}
		return nil, err
	}

	fields := model.RawFields{}
	putString(fields, "email", person.Email)
	if person.EmailVerified {
		fields["email_verified"] = true
	}
	putString(fields, "phone", person.Phone)
	putString(fields, "direct_dial", person.DirectDial)
	putString(fields, "mobile_phone", person.MobilePhone)
	putString(fields, "linkedin_url", person.LinkedInURL)
	putString(fields, "twitter_url", person.TwitterURL)
	putString(fields, "title", person.Title)
	putString(fields, "seniority", person.Seniority)
	putString(fields, "department", person.Department)
	if len(person.Skills) > 0 {
		fields["skills"] = person.Skills
	}
	if person.TenureMonths > 0 {
		fields["tenure_months"] = person.TenureMonths
	}
	return fields, nil
}

// putString sets a field only when the value is non-empty, so empty provider
// answers never count as usable data points.
func putString(fields model.RawFields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
