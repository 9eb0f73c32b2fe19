package orchestrator

import (
	"maps"
	"strings"

	"github.com/JakeFAU/webcat-crawler/internal/visit"
)

// Outcome labels the terminal state of one visit unit.
type Outcome string

// Outcomes reported once per unit.
const (
	OutcomeCreated       Outcome = "created"
	OutcomeUpdated       Outcome = "updated"
	OutcomeSkippedExists Outcome = "skipped-exists"
	OutcomeSkippedConfig Outcome = "skipped-config"
	OutcomeNotFound      Outcome = "not-found"
)

const errorPrefix = "error:"

// ErrorOutcome is the outcome for a unit that failed with kind.
func ErrorOutcome(kind visit.Kind) Outcome {
	return Outcome(errorPrefix + string(kind))
}

// Failed reports whether o is an error outcome.
func (o Outcome) Failed() bool {
	return strings.HasPrefix(string(o), errorPrefix)
}

// Summary counts unit outcomes for one batch.
type Summary struct {
	Created       int                `json:"created"`
	Updated       int                `json:"updated"`
	SkippedExists int                `json:"skipped_exists"`
	SkippedConfig int                `json:"skipped_config"`
	NotFound      int                `json:"not_found"`
	Failed        map[visit.Kind]int `json:"failed"`
}

func (s *Summary) add(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeSkippedExists:
		s.SkippedExists++
	case OutcomeSkippedConfig:
		s.SkippedConfig++
	case OutcomeNotFound:
		s.NotFound++
	default:
		if s.Failed == nil {
			s.Failed = make(map[visit.Kind]int)
		}
		s.Failed[visit.Kind(strings.TrimPrefix(string(outcome), errorPrefix))]++
	}
}

// Committed is the number of records written.
func (s Summary) Committed() int {
	return s.Created + s.Updated
}

// Failures is the number of failed units across all kinds.
func (s Summary) Failures() int {
	n := 0
	for _, c := range s.Failed {
		n += c
	}
	return n
}

// Total is the number of units that reached a terminal state.
func (s Summary) Total() int {
	return s.Committed() + s.SkippedExists + s.SkippedConfig + s.NotFound + s.Failures()
}

func (s Summary) clone() Summary {
	out := s
	out.Failed = maps.Clone(s.Failed)
	return out
}
