// Package cost accounts external-API credit usage per enrichment run.
package cost

// Rates maps source names to the credit cost of one successful call.
// Paid data providers bill per lookup; CRM and internal sources are free.
type Rates struct {
	PerCall map[string]int `yaml:"per_call" mapstructure:"per_call"`
	Default int            `yaml:"default" mapstructure:"default"`
}

// DefaultRates returns the standard credit schedule: every paid provider
// costs one credit per successful call, CRM sources cost nothing.
func DefaultRates() Rates {
	return Rates{
		PerCall: map[string]int{
			"people-data":      1,
			"company-data":     1,
			"profile-service":  1,
			"news-service":     1,
			"tech-fingerprint": 1,
			"salesforce":       0,
			"hubspot":          0,
		},
		Default: 1,
	}
}

// Calculator computes credit costs for pipeline runs.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Call returns the credit cost of one call to the named source. Failed and
// skipped calls cost nothing regardless of provider.
func (c *Calculator) Call(source string, success bool) int {
	if !success {
		return 0
	}
	if credits, ok := c.rates.PerCall[source]; ok {
		return credits
	}
	return c.rates.Default
}
