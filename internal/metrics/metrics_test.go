package metrics

import (
	"expvar"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInc(t *testing.T) {
	before := EventsDeduplicated.Value()
	Inc(EventsDeduplicated)
	Inc(EventsDeduplicated)
	assert.Equal(t, before+2, EventsDeduplicated.Value())
}

func TestCountersArePublished(t *testing.T) {
	for _, name := range []string{
		"docbreak_breakdowns_started_total",
		"docbreak_generation_retries_total",
		"docbreak_parties_merged_total",
	} {
		assert.NotNil(t, expvar.Get(name), name)
	}
}
