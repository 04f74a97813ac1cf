// Package scoring computes completion progress and the weighted score of a
// review against its scorecard. Everything here is pure and performs no I/O.
package scoring

import (
	"math"
	"strconv"
	"strings"

	"github.com/joescharf/scorecard/internal/models"
)

// Answers maps a scorecard question id to its effective answer.
type Answers map[string]string

// EffectiveAnswers builds Answers from stored review items, preferring the
// manager's finalAnswer over the reviewer's initialAnswer.
func EffectiveAnswers(items []*models.ReviewItem) Answers {
	a := make(Answers, len(items))
	for _, it := range items {
		a[it.ScorecardQuestionID] = strings.TrimSpace(it.EffectiveAnswer())
	}
	return a
}

// InitialAnswers builds Answers from the reviewer's initialAnswer only.
func InitialAnswers(items []*models.ReviewItem) Answers {
	a := make(Answers, len(items))
	for _, it := range items {
		a[it.ScorecardQuestionID] = strings.TrimSpace(it.InitialAnswer)
	}
	return a
}

// SectionResult is the computed score of one section.
type SectionResult struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// GroupResult is the computed score of one group.
type GroupResult struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Weight   float64         `json:"weight"`
	Score    float64         `json:"score"`
	Sections []SectionResult `json:"sections"`
}

// Result is the full scoring breakdown for a scorecard.
type Result struct {
	Total    float64 // 0-100, rounded to 2 decimals
	Progress int     // 0-100
	Answered int
	Count    int
	Groups   []GroupResult
}

// QuestionPoints returns the 0-100 point value of a single answer.
func QuestionPoints(q *models.ScorecardQuestion, answer string) float64 {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return 0
	}
	switch q.Type {
	case models.QuestionTypeYesNo:
		if answer == models.AnswerYes {
			return 100
		}
		return 0
	case models.QuestionTypeScale:
		lo, hi := q.Range()
		if hi == lo {
			return 0
		}
		v, err := strconv.Atoi(answer)
		if err != nil {
			return 0
		}
		return 100 * float64(v-lo) / float64(hi-lo)
	default:
		return 0
	}
}

// Progress is the rounded percentage of questions with a non-empty answer.
func Progress(sc *models.Scorecard, answers Answers) int {
	answered, total := countAnswered(sc, answers)
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(answered) / float64(total)))
}

func countAnswered(sc *models.Scorecard, answers Answers) (answered, total int) {
	for _, q := range sc.Questions() {
		total++
		if strings.TrimSpace(answers[q.ID]) != "" {
			answered++
		}
	}
	return answered, total
}

// Score returns the weighted total, rounded to 2 decimals.
//
// Weights at every level are direct percentage multipliers: a section is
// the sum of point*weight/100 over its questions and is not divided by the
// sum of its question weights. Scorecards whose sibling weights do not add
// up to 100 therefore scale the result accordingly.
func Score(sc *models.Scorecard, answers Answers) float64 {
	return Compute(sc, answers).Total
}

// Compute returns the total score, progress and per-level breakdown.
func Compute(sc *models.Scorecard, answers Answers) *Result {
	res := &Result{}
	var total float64
	for _, g := range sc.Groups {
		gr := GroupResult{ID: g.ID, Name: g.Name, Weight: g.Weight}
		for _, sec := range g.Sections {
			sr := SectionResult{ID: sec.ID, Name: sec.Name, Weight: sec.Weight}
			for _, q := range sec.Questions {
				sr.Score += QuestionPoints(q, answers[q.ID]) * q.Weight / 100
			}
			gr.Score += sr.Score * sec.Weight / 100
			gr.Sections = append(gr.Sections, sr)
		}
		total += gr.Score * g.Weight / 100
		res.Groups = append(res.Groups, gr)
	}
	res.Total = Round2(total)
	res.Answered, res.Count = countAnswered(sc, answers)
	res.Progress = Progress(sc, answers)
	return res
}

// Round2 rounds half-up to 2 decimal places.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}
