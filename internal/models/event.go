package models

import (
	"fmt"
	"strings"
	"time"
)

// DatePrecision is how precisely a FuzzyDate's instant is known.
type DatePrecision string

const (
	PrecisionYear    DatePrecision = "year"
	PrecisionMonth   DatePrecision = "month"
	PrecisionDay     DatePrecision = "day"
	PrecisionHour    DatePrecision = "hour"
	PrecisionMinute  DatePrecision = "minute"
	PrecisionSecond  DatePrecision = "second"
	PrecisionDecade  DatePrecision = "decade"
	PrecisionSeason  DatePrecision = "season"
	PrecisionQuarter DatePrecision = "quarter"
)

// ValidDatePrecisions is the closed set of precision values.
var ValidDatePrecisions = []DatePrecision{
	PrecisionYear,
	PrecisionMonth,
	PrecisionDay,
	PrecisionHour,
	PrecisionMinute,
	PrecisionSecond,
	PrecisionDecade,
	PrecisionSeason,
	PrecisionQuarter,
}

// IsValid returns true if the precision is recognized.
func (dp DatePrecision) IsValid() bool {
	for i := range ValidDatePrecisions {
		if dp == ValidDatePrecisions[i] {
			return true
		}
	}
	return false
}

// ParseDatePrecision lowercases s and validates it against the closed set.
func ParseDatePrecision(s string) (DatePrecision, error) {
	dp := DatePrecision(strings.ToLower(strings.TrimSpace(s)))
	if !dp.IsValid() {
		return "", fmt.Errorf("invalid date precision %q: must be one of year, month, day, hour, minute, second, decade, season, quarter", s)
	}
	return dp, nil
}

// FuzzyDate is a point in time together with how well that point is known.
type FuzzyDate struct {
	DateTime      time.Time     `json:"dateTime"`
	Precision     DatePrecision `json:"precision"`
	IsCirca       bool          `json:"isCirca"`
	HumanReadable string        `json:"humanReadable,omitempty"`
}

// Event is one entry on the master timeline.
type Event struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StartDate   *FuzzyDate `json:"startDate"`
	EndDate     *FuzzyDate `json:"endDate,omitempty"`
	Embedding   []float32  `json:"-"`
	SourceID    string     `json:"sourceId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt,omitzero"`
}

// EmbeddingText is the text embedded for near-duplicate detection.
func (e Event) EmbeddingText() string {
	return e.Name + " " + e.Description
}

// Validate checks that the end date, when present, does not precede the start date.
func (e Event) Validate() error {
	if e.StartDate != nil && e.EndDate != nil && e.EndDate.DateTime.Before(e.StartDate.DateTime) {
		return fmt.Errorf("event %q: end date %s precedes start date %s",
			e.Name, e.EndDate.DateTime.Format(time.RFC3339), e.StartDate.DateTime.Format(time.RFC3339))
	}
	return nil
}

// String renders the instant at its precision, e.g. "1840s", "Q3 1843",
// "September 1843" or "c. 1843".
func (fd FuzzyDate) String() string {
	t := fd.DateTime
	var s string
	switch fd.Precision {
	case PrecisionDecade:
		s = fmt.Sprintf("%ds", t.Year()/10*10)
	case PrecisionYear:
		s = t.Format("2006")
	case PrecisionQuarter:
		s = fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
	case PrecisionSeason:
		s = fmt.Sprintf("%s %d", season(t.Month()), t.Year())
	case PrecisionMonth:
		s = t.Format("January 2006")
	case PrecisionDay:
		s = t.Format("2006-01-02")
	case PrecisionHour:
		s = t.Format("2006-01-02 15h")
	case PrecisionMinute:
		s = t.Format("2006-01-02 15:04")
	default:
		s = t.Format("2006-01-02 15:04:05")
	}
	if fd.IsCirca {
		return "c. " + s
	}
	return s
}

// season names the northern-hemisphere meteorological season of m.
func season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}

// When renders the event's date span; undated events render as "undated".
func (e Event) When() string {
	switch {
	case e.StartDate == nil:
		return "undated"
	case e.EndDate == nil:
		return e.StartDate.String()
	default:
		return e.StartDate.String() + " to " + e.EndDate.String()
	}
}
