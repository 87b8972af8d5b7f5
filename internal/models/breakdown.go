package models

import "time"

// Stage is a step of the breakdown state machine. A breakdown's stage is the
// step it will run next; StageComplete and StageFailed are terminal.
type Stage string

const (
	StageChunking    Stage = "chunking"
	StageSummarizing Stage = "summarizing"
	StageParties     Stage = "parties"
	StageLocations   Stage = "locations"
	StageTimeline    Stage = "timeline"
	StageDating      Stage = "dating"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

// StageOrder lists the non-terminal stages in execution order followed by StageComplete.
var StageOrder = []Stage{
	StageChunking,
	StageSummarizing,
	StageParties,
	StageLocations,
	StageTimeline,
	StageDating,
	StageComplete,
}

// IsValid returns true if the stage is recognized.
func (s Stage) IsValid() bool {
	if s == StageFailed {
		return true
	}
	for i := range StageOrder {
		if s == StageOrder[i] {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further stage runs after s.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// Next returns the stage that follows s. Terminal stages return themselves.
func (s Stage) Next() Stage {
	for i := range StageOrder {
		if StageOrder[i] == s && i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
	}
	return s
}

// Strategy selects how the master summary is produced.
type Strategy string

const (
	StrategyQuick          Strategy = "quick"
	StrategyGrowingSummary Strategy = "growing-summary"
)

// ValidStrategies is the set of all summarization strategies.
var ValidStrategies = []Strategy{StrategyQuick, StrategyGrowingSummary}

// IsValid returns true if the strategy is recognized.
func (s Strategy) IsValid() bool {
	for i := range ValidStrategies {
		if s == ValidStrategies[i] {
			return true
		}
	}
	return false
}

// Breakdown is the persisted state of one pipeline run over a source.
type Breakdown struct {
	ID               string           `json:"id"`
	SourceID         string           `json:"sourceId"`
	Strategy         Strategy         `json:"strategy"`
	Stage            Stage            `json:"stage"`
	FailedStage      Stage            `json:"failedStage,omitempty"`
	Error            string           `json:"error,omitempty"`
	ChunkCount       int              `json:"chunkCount"`
	ChunkSummaries   []string         `json:"chunkSummaries"`
	Summary          string           `json:"summary"`
	PartiesPayload   string           `json:"partiesPayload,omitempty"`
	LocationsPayload string           `json:"locationsPayload,omitempty"`
	TimelinePayload  string           `json:"timelinePayload,omitempty"`
	Result           *BreakdownResult `json:"result,omitempty"`
	InputTokens      int64            `json:"inputTokens"`
	OutputTokens     int64            `json:"outputTokens"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Touch refreshes UpdatedAt. Every mutation of a breakdown calls it.
func (b *Breakdown) Touch() {
	b.UpdatedAt = time.Now().UTC()
}

// AddTokens accumulates per-call token usage.
func (b *Breakdown) AddTokens(in, out int64) {
	b.InputTokens += in
	b.OutputTokens += out
}

// ResumeStage returns the stage a resumed run should start from.
func (b *Breakdown) ResumeStage() Stage {
	if b.Stage == StageFailed {
		if b.FailedStage != "" {
			return b.FailedStage
		}
		return StageChunking
	}
	return b.Stage
}

// Clone returns a copy with its own slices so concurrent readers never
// observe in-place mutation.
func (b *Breakdown) Clone() *Breakdown {
	c := *b
	if b.ChunkSummaries != nil {
		c.ChunkSummaries = make([]string, len(b.ChunkSummaries))
		copy(c.ChunkSummaries, b.ChunkSummaries)
	}
	return &c
}
