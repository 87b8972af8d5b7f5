// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when expvar is imported in the serving binary.
package metrics

import "expvar"

// Pipeline counters.
var (
	BreakdownsStarted   = expvar.NewInt("docbreak_breakdowns_started_total")
	BreakdownsCompleted = expvar.NewInt("docbreak_breakdowns_completed_total")
	BreakdownsFailed    = expvar.NewInt("docbreak_breakdowns_failed_total")
	GenerationCalls     = expvar.NewInt("docbreak_generation_calls_total")
	GenerationRetries   = expvar.NewInt("docbreak_generation_retries_total")
	GenerationFailures  = expvar.NewInt("docbreak_generation_failures_total")
	InputTokens         = expvar.NewInt("docbreak_input_tokens_total")
	OutputTokens        = expvar.NewInt("docbreak_output_tokens_total")
	EventsStored        = expvar.NewInt("docbreak_events_stored_total")
	EventsDeduplicated  = expvar.NewInt("docbreak_events_deduplicated_total")
	PartiesCreated      = expvar.NewInt("docbreak_parties_created_total")
	PartiesMerged       = expvar.NewInt("docbreak_parties_merged_total")
	RecoveredBreakdowns = expvar.NewInt("docbreak_recovered_breakdowns_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
