package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-sync/internal/model"
)

func serveJSON(t *testing.T, path string, payload string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(payload)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPeopleDataEnrichByEmail(t *testing.T) {
	srv := serveJSON(t, "/v1/person/enrich", `{
		"email": "jane@acme.com",
		"email_verified": true,
		"phone": "555-0100",
		"job_title": "VP Engineering",
		"seniority": "vp",
		"department": "engineering",
		"linkedin_url": "https://linkedin.com/in/janedoe",
		"skills": ["go", "kubernetes"],
		"tenure_months": 18
	}`)

	c, err := NewPeopleData(model.Connection{Provider: "people-data", BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", fields["email"])
	assert.Equal(t, true, fields["email_verified"])
	assert.Equal(t, "VP Engineering", fields["title"])
	assert.Equal(t, []string{"go", "kubernetes"}, fields["skills"])
	assert.Equal(t, 18, fields["tenure_months"])
}

func TestPeopleDataEnrichNoIdentifiers(t *testing.T) {
	c, err := NewPeopleData(model.Connection{BaseURL: "http://unused", APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{FirstName: "Jane"})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestPeopleDataEnrichNotFoundIsEmpty(t *testing.T) {
	srv := serveJSON(t, "/other", `{}`)

	c, err := NewPeopleData(model.Connection{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Email: "nobody@acme.com"})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestCompanyDataEnrich(t *testing.T) {
	srv := serveJSON(t, "/v1/company/enrich", `{
		"name": "Acme Corp",
		"domain": "acme.com",
		"industry": "Software",
		"employee_count": 250,
		"annual_revenue_usd": 40000000,
		"headquarters": "Austin, TX"
	}`)

	c, err := NewCompanyData(model.Connection{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Domain: "acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", fields["company_name"])
	assert.Equal(t, "Software", fields["industry"])
	assert.Equal(t, 250, fields["employee_count"])
	assert.Equal(t, int64(40000000), fields["revenue_usd"])
}

func TestCompanyDataEnrichSkipsWithoutDomain(t *testing.T) {
	c, err := NewCompanyData(model.Connection{BaseURL: "http://unused", APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Company: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestNewsEnrichDerivesSignals(t *testing.T) {
	srv := serveJSON(t, "/v1/news", `{"articles": [
		{"title": "Acme raises $30M Series B", "url": "https://news.example/1",
		 "source": "TechWire", "category": "funding", "confidence": 90,
		 "published_at": "2026-08-10T00:00:00Z"},
		{"title": "Acme hiring 40 engineers", "url": "https://news.example/2",
		 "source": "JobsDaily", "category": "hiring", "confidence": 0,
		 "published_at": "2026-08-12T00:00:00Z"},
		{"title": "Acme mentioned in roundup", "url": "https://news.example/3",
		 "source": "Blog", "category": "other", "confidence": 60,
		 "published_at": "2026-08-13T00:00:00Z"}
	]}`)

	c, err := NewNews(model.Connection{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Domain: "acme.com"})
	require.NoError(t, err)

	items, ok := fields["news_items"].([]model.NewsItem)
	require.True(t, ok)
	assert.Len(t, items, 3)

	signals, ok := fields["intent_signals"].([]model.IntentSignal)
	require.True(t, ok)
	require.Len(t, signals, 3)
	assert.Equal(t, model.IntentFunding, signals[0].Type)
	assert.Equal(t, 90, signals[0].Confidence)
	assert.Equal(t, model.IntentJobPosting, signals[1].Type)
	assert.Equal(t, 50, signals[1].Confidence) // missing confidence defaults to 50
	assert.Equal(t, model.IntentNewsMention, signals[2].Type)
}

func TestTechStackEnrichRecentAdoptionOnly(t *testing.T) {
	recent := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	old := time.Now().UTC().Add(-200 * 24 * time.Hour).Format(time.RFC3339)
	srv := serveJSON(t, "/v1/fingerprint", `{"technologies": [
		{"name": "Kubernetes", "category": "infra", "confidence": 95, "first_detected": "`+recent+`"},
		{"name": "Postgres", "category": "database", "confidence": 99, "first_detected": "`+old+`"}
	]}`)

	c, err := NewTechStack(model.Connection{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Domain: "acme.com"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Kubernetes", "Postgres"}, fields["technologies"])

	signals, ok := fields["intent_signals"].([]model.IntentSignal)
	require.True(t, ok)
	require.Len(t, signals, 1)
	assert.Equal(t, model.IntentTechStack, signals[0].Type)
	assert.Equal(t, "adopted Kubernetes", signals[0].Description)
}

func TestProfileEnrichPrefersURL(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"profile_url": "https://linkedin.com/in/janedoe", "headline": "VP Engineering"}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c, err := NewProfile(model.Connection{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{
		LinkedInURL: "https://linkedin.com/in/janedoe",
		FirstName:   "Jane",
		LastName:    "Doe",
		Company:     "Acme",
	})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "url=")
	assert.NotContains(t, gotQuery, "company=")
	assert.Equal(t, "VP Engineering", fields["title"])
}

func TestHubSpotEnrichByEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/v3/objects/contacts/search", r.URL.Path)
		w.Write([]byte(`{"results": [{"id": "501", "properties": {
			"email": "jane@acme.com",
			"jobtitle": "VP Engineering",
			"num_contacted_notes": "7",
			"notes_last_contacted": "2026-08-01T09:00:00Z"
		}}]}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c, err := NewHubSpot(model.Connection{Provider: "hubspot", BaseURL: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)

	fields, err := c.Enrich(context.Background(), model.Target{Email: "jane@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "jane@acme.com", fields["email"])
	assert.Equal(t, "VP Engineering", fields["title"])
	assert.Equal(t, 7, fields["interaction_count"])
	assert.Equal(t, time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), fields["last_contacted_at"])
}

func TestHubSpotGetRecentlyModified(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/v3/objects/contacts/search", r.URL.Path)
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf) //nolint:errcheck
		gotBody = buf
		w.Write([]byte(`{"results": [
			{"id": "501", "properties": {"email": "a@acme.com"}, "updatedAt": "2026-08-20T00:00:00Z"},
			{"id": "502", "properties": {"email": "b@acme.com"}, "updatedAt": "2026-08-21T00:00:00Z"}
		]}`)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	c, err := NewHubSpot(model.Connection{Provider: "hubspot", BaseURL: srv.URL, AccessToken: "tok"})
	require.NoError(t, err)

	crm, ok := c.(CRMConnector)
	require.True(t, ok)

	since := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	entities, err := crm.GetRecentlyModified(context.Background(), model.EntityContact, since, 100)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, "501", entities[0].ID)
	assert.Contains(t, string(gotBody), "hs_lastmodifieddate")
	assert.Contains(t, string(gotBody), "1787097600000") // since in epoch millis
}
