package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCall_PaidProvider(t *testing.T) {
	c := NewCalculator(DefaultRates())

	assert.Equal(t, 1, c.Call("people-data", true))
	assert.Equal(t, 1, c.Call("news-service", true))
}

func TestCall_CRMSourcesAreFree(t *testing.T) {
	c := NewCalculator(DefaultRates())

	assert.Equal(t, 0, c.Call("salesforce", true))
	assert.Equal(t, 0, c.Call("hubspot", true))
}

func TestCall_FailedCallsCostNothing(t *testing.T) {
	c := NewCalculator(DefaultRates())

	assert.Equal(t, 0, c.Call("people-data", false))
}

func TestCall_UnknownSourceUsesDefault(t *testing.T) {
	c := NewCalculator(Rates{PerCall: map[string]int{}, Default: 2})

	assert.Equal(t, 2, c.Call("brand-new-provider", true))
}
