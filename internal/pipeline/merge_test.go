package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospect-sync/internal/model"
)

func TestDeriveDomain(t *testing.T) {
	assert.Equal(t, "acmeco.com", DeriveDomain("jane@acmeco.com"))
	assert.Equal(t, "acmeco.com", DeriveDomain("jane@AcmeCo.com"))
	assert.Equal(t, "", DeriveDomain("jane@gmail.com"))
	assert.Equal(t, "", DeriveDomain("jane@outlook.com"))
	assert.Equal(t, "", DeriveDomain("not-an-email"))
	assert.Equal(t, "", DeriveDomain("trailing@"))
	assert.Equal(t, "", DeriveDomain(""))
}

func TestIsPublicEmailDomain(t *testing.T) {
	assert.True(t, IsPublicEmailDomain("jane@gmail.com"))
	assert.True(t, IsPublicEmailDomain("jane@Yahoo.com"))
	assert.False(t, IsPublicEmailDomain("jane@acmeco.com"))
	assert.False(t, IsPublicEmailDomain("no-at-sign"))
}

func TestNormalizeCompanyName(t *testing.T) {
	assert.Equal(t, "Acme Corp", normalizeCompanyName("acme corp"))
	assert.Equal(t, "Acme Corp", normalizeCompanyName("ACME CORP"))
	// Mixed case is someone's deliberate styling, leave it alone.
	assert.Equal(t, "McDonald's", normalizeCompanyName("McDonald's"))
	assert.Equal(t, "", normalizeCompanyName("   "))
}

func TestAccumulatorFirstWriterWins(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})

	written := acc.Apply(model.RawFields{"title": "VP Sales", "phone": "555-1000"})
	assert.Equal(t, 2, written)

	// A lower-priority source applied later cannot overwrite.
	written = acc.Apply(model.RawFields{"title": "Vice President", "department": "Sales"})
	assert.Equal(t, 1, written)

	rec := acc.Record()
	assert.Equal(t, "VP Sales", rec.Professional.Title)
	assert.Equal(t, "Sales", rec.Professional.Department)
	assert.Equal(t, "555-1000", rec.Contact.Phone)
}

func TestAccumulatorSeedOutranksSources(t *testing.T) {
	acc := NewAccumulator(model.Target{
		EntityID: "e1",
		Email:    "jane@acmeco.com",
		Company:  "AcmeCo",
		Domain:   "acmeco.com",
	})

	written := acc.Apply(model.RawFields{
		"email":        "different@other.com",
		"company_name": "Other Inc",
		"title":        "VP Sales",
	})
	assert.Equal(t, 1, written)

	rec := acc.Record()
	assert.Equal(t, "jane@acmeco.com", rec.Contact.Email)
	assert.Equal(t, "AcmeCo", rec.Company.Name)
	assert.Equal(t, "VP Sales", rec.Professional.Title)
}

func TestAccumulatorIgnoresEmptyAndUnknownValues(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})

	written := acc.Apply(model.RawFields{
		"title":          "   ",
		"employee_count": 0,
		"revenue_usd":    -5,
		"made_up_field":  "x",
	})
	assert.Equal(t, 0, written)

	// An empty value does not claim the field for later sources.
	written = acc.Apply(model.RawFields{"title": "CTO"})
	assert.Equal(t, 1, written)
	assert.Equal(t, "CTO", acc.Record().Professional.Title)
}

func TestAccumulatorCoercesNumericTypes(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})

	written := acc.Apply(model.RawFields{
		"employee_count": float64(220),
		"revenue_usd":    float64(12_000_000),
		"tenure_months":  int64(18),
	})
	assert.Equal(t, 3, written)

	rec := acc.Record()
	assert.Equal(t, 220, rec.Company.EmployeeCount)
	assert.Equal(t, int64(12_000_000), rec.Company.RevenueUSD)
	assert.Equal(t, 18, rec.Professional.TenureMonths)
}

func TestAccumulatorSignalUnionDedupes(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	sig := model.IntentSignal{Type: model.IntentFunding, Source: "news-service", Confidence: 80, Timestamp: ts}
	written := acc.Apply(model.RawFields{"intent_signals": []model.IntentSignal{sig}})
	assert.Equal(t, 1, written)

	// Same (type, timestamp, source) from a second source's payload is a dup.
	written = acc.Apply(model.RawFields{"intent_signals": []model.IntentSignal{
		sig,
		{Type: model.IntentFunding, Source: "news-service", Confidence: 60, Timestamp: ts.Add(time.Hour)},
	}})
	assert.Equal(t, 1, written)
	assert.Len(t, acc.Record().Intent.Signals, 2)
}

func TestAccumulatorTechnologyUnionCaseInsensitive(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})

	written := acc.Apply(model.RawFields{"technologies": []string{"Salesforce", "Marketo"}})
	assert.Equal(t, 2, written)

	written = acc.Apply(model.RawFields{"technologies": []string{"salesforce", "Snowflake", ""}})
	assert.Equal(t, 1, written)
	assert.Equal(t, []string{"Salesforce", "Marketo", "Snowflake"}, acc.Record().Company.Technologies)
}

func TestAccumulatorNewsUnionByURL(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})

	written := acc.Apply(model.RawFields{"news_items": []model.NewsItem{
		{Title: "Series B", URL: "https://news.example/a"},
		{Title: "No URL", URL: ""},
	}})
	assert.Equal(t, 1, written)

	written = acc.Apply(model.RawFields{"news_items": []model.NewsItem{
		{Title: "Series B (syndicated)", URL: "https://news.example/a"},
		{Title: "New CRO", URL: "https://news.example/b"},
	}})
	assert.Equal(t, 1, written)
	assert.Len(t, acc.Record().Research.NewsItems, 2)
}

func TestAccumulatorLastContactedAt(t *testing.T) {
	acc := NewAccumulator(model.Target{EntityID: "e1"})
	ts := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	written := acc.Apply(model.RawFields{
		"interaction_count": 4,
		"last_contacted_at": ts,
	})
	assert.Equal(t, 2, written)

	rec := acc.Record()
	assert.Equal(t, 4, rec.Relationship.InteractionCount)
	if assert.NotNil(t, rec.Relationship.LastContactedAt) {
		assert.Equal(t, ts, *rec.Relationship.LastContactedAt)
	}
}
