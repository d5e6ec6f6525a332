package connector

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// CompanyDataConnector normalizes a firmographic data provider keyed by
// company domain.
type CompanyDataConnector struct {
	rest *restClient
}

// NewCompanyData builds the company-data connector from a stored connection.
func NewCompanyData(conn model.Connection) (Connector, error) {
	if conn.BaseURL == "" {
		return nil, eris.New("company-data: base URL not configured")
	}
	return &CompanyDataConnector{
		rest: newRESTClient("company-data", conn.BaseURL, conn.APIKey, 5),
	}, nil
}

func (c *CompanyDataConnector) Name() string { return "company-data" }

func (c *CompanyDataConnector) Scope() Scope { return ScopeCompany }

func (c *CompanyDataConnector) TestConnection(ctx context.Context) error {
	return c.rest.getJSON(ctx, "/v1/health", nil, nil)
}

type companyDataFirmo struct {
	Name          string `json:"name"`
	Domain        string `json:"domain"`
	Industry      string `json:"industry"`
	EmployeeCount int    `json:"employee_count"`
	RevenueUSD    int64  `json:"annual_revenue_usd"`
	Headquarters  string `json:"headquarters"`
}

func (c *CompanyDataConnector) Enrich(ctx context.Context, target model.Target) (model.RawFields, error) {
	if target.Domain == "" {
		return model.RawFields{}, nil
	}

	q := url.Values{}
	q.Set("domain", target.Domain)

	var firmo companyDataFirmo
	if err := c.rest.getJSON(ctx, "/v1/company/enrich", q, &firmo); err != nil {
		if eris.Is(err, ErrNotFound) {
			return model.RawFields{}, nil
		}
		return nil, err
	}

	fields := model.RawFields{}
	putString(fields, "company_name", firmo.Name)
	putString(fields, "company_domain", firmo.Domain)
	putString(fields, "industry", firmo.Industry)
	putString(fields, "headquarters", firmo.Headquarters)
	if firmo.EmployeeCount > 0 {
		fields["employee_count"] = firmo.EmployeeCount
	}
	if firmo.RevenueUSD > 0 {
		fields["revenue_usd"] = firmo.RevenueUSD
	}
	return fields, nil
}
