package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// QuestionType is how a scorecard question is answered.
type QuestionType string

const (
	QuestionTypeYesNo QuestionType = "YES_NO"
	QuestionTypeScale QuestionType = "SCALE"
)

// Answer values for YES_NO questions.
const (
	AnswerYes = "Yes"
	AnswerNo  = "No"
)

// ScorecardQuestion is a single scored question within a section.
type ScorecardQuestion struct {
	ID          string       `json:"id" yaml:"id"`
	Description string       `json:"description" yaml:"description"`
	Guidelines  string       `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`
	Type        QuestionType `json:"type" yaml:"type"`
	Weight      float64      `json:"weight" yaml:"weight"` // 0-100
	ScaleMin    *int         `json:"scaleMin,omitempty" yaml:"scaleMin,omitempty"`
	ScaleMax    *int         `json:"scaleMax,omitempty" yaml:"scaleMax,omitempty"`
}

// Range returns the question's scale bounds, treating missing bounds as 0.
func (q *ScorecardQuestion) Range() (lo, hi int) {
	if q.ScaleMin != nil {
		lo = *q.ScaleMin
	}
	if q.ScaleMax != nil {
		hi = *q.ScaleMax
	}
	return lo, hi
}

// ScorecardSection groups questions under a shared weight.
type ScorecardSection struct {
	ID        string               `json:"id" yaml:"id"`
	Name      string               `json:"name" yaml:"name"`
	Weight    float64              `json:"weight" yaml:"weight"`
	Questions []*ScorecardQuestion `json:"questions" yaml:"questions"`
}

// ScorecardGroup is the top level of a scorecard hierarchy.
type ScorecardGroup struct {
	ID       string              `json:"id" yaml:"id"`
	Name     string              `json:"name" yaml:"name"`
	Weight   float64             `json:"weight" yaml:"weight"`
	Sections []*ScorecardSection `json:"sections" yaml:"sections"`
}

// Scorecard is an ordered list of groups.
type Scorecard struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty"`
	Groups    []*ScorecardGroup `json:"scorecardGroups" yaml:"groups"`
	CreatedAt time.Time         `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time         `json:"updatedAt" yaml:"-"`
}

// Questions returns every question in hierarchy order.
func (s *Scorecard) Questions() []*ScorecardQuestion {
	var out []*ScorecardQuestion
	for _, g := range s.Groups {
		for _, sec := range g.Sections {
			out = append(out, sec.Questions...)
		}
	}
	return out
}

// Question looks up a question by id.
func (s *Scorecard) Question(id string) (*ScorecardQuestion, bool) {
	for _, q := range s.Questions() {
		if q.ID == id {
			return q, true
		}
	}
	return nil, false
}

// Validate checks that a scorecard definition can be scored. Missing ids
// are allowed; the store assigns them.
func (s *Scorecard) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return eris.New("scorecard name is required")
	}
	if len(s.Questions()) == 0 {
		return eris.New("scorecard has no questions")
	}
	seen := map[string]bool{}
	for _, q := range s.Questions() {
		if q.ID != "" {
			if seen[q.ID] {
				return eris.Errorf("duplicate question id %q", q.ID)
			}
			seen[q.ID] = true
		}
		switch q.Type {
		case QuestionTypeYesNo:
		case QuestionTypeScale:
			if q.ScaleMin == nil || q.ScaleMax == nil {
				return eris.Errorf("question %q: SCALE needs scaleMin and scaleMax", q.Description)
			}
			if *q.ScaleMin > *q.ScaleMax {
				return eris.Errorf("question %q: scaleMin is greater than scaleMax", q.Description)
			}
		default:
			return eris.Errorf("question %q: unknown type %q", q.Description, q.Type)
		}
	}
	return nil
}

// WeightWarnings lists every level whose child weights do not add up to
// 100. Such scorecards still score, just not on a 0-100 range.
func (s *Scorecard) WeightWarnings() []string {
	var out []string
	check := func(label string, sum float64) {
		if math.Abs(sum-100) > 1e-9 {
			out = append(out, fmt.Sprintf("%s weights sum to %g, not 100", label, sum))
		}
	}

	var groups float64
	for _, g := range s.Groups {
		groups += g.Weight
		var sections float64
		for _, sec := range g.Sections {
			sections += sec.Weight
			var questions float64
			for _, q := range sec.Questions {
				questions += q.Weight
			}
			check(fmt.Sprintf("section %q question", sec.Name), questions)
		}
		check(fmt.Sprintf("group %q section", g.Name), sections)
	}
	check("group", groups)
	return out
}
