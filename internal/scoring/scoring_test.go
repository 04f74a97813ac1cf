package scoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scorecard/internal/models"
)

func intPtr(i int) *int { return &i }

func singleQuestion(q *models.ScorecardQuestion) *models.Scorecard {
	q.ID = "q1"
	q.Weight = 100
	return &models.Scorecard{Groups: []*models.ScorecardGroup{{
		ID: "g1", Weight: 100,
		Sections: []*models.ScorecardSection{{ID: "s1", Weight: 100, Questions: []*models.ScorecardQuestion{q}}},
	}}}
}

func TestScore_YesNo(t *testing.T) {
	sc := singleQuestion(&models.ScorecardQuestion{Type: models.QuestionTypeYesNo})

	assert.Equal(t, 100.0, Score(sc, Answers{"q1": "Yes"}))
	assert.Equal(t, 0.0, Score(sc, Answers{"q1": "No"}))
	assert.Equal(t, 0.0, Score(sc, Answers{}))
}

func TestScore_Scale(t *testing.T) {
	sc := singleQuestion(&models.ScorecardQuestion{Type: models.QuestionTypeScale, ScaleMin: intPtr(0), ScaleMax: intPtr(4)})

	assert.Equal(t, 50.0, Score(sc, Answers{"q1": "2"}))
	assert.Equal(t, 0.0, Score(sc, Answers{"q1": "0"}))
	assert.Equal(t, 100.0, Score(sc, Answers{"q1": "4"}))
	assert.Equal(t, 0.0, Score(sc, Answers{"q1": "abc"}), "unparseable answer scores zero")
}

func TestScore_DegenerateScale(t *testing.T) {
	sc := singleQuestion(&models.ScorecardQuestion{Type: models.QuestionTypeScale, ScaleMin: intPtr(3), ScaleMax: intPtr(3)})

	for _, a := range []string{"", "0", "3", "10"} {
		assert.Equal(t, 0.0, Score(sc, Answers{"q1": a}), "answer %q", a)
	}
}

func TestScore_TwoSections(t *testing.T) {
	sc := &models.Scorecard{Groups: []*models.ScorecardGroup{{
		ID: "g1", Weight: 100,
		Sections: []*models.ScorecardSection{
			{ID: "a", Weight: 60, Questions: []*models.ScorecardQuestion{
				{ID: "yn", Type: models.QuestionTypeYesNo, Weight: 100},
			}},
			{ID: "b", Weight: 40, Questions: []*models.ScorecardQuestion{
				{ID: "sc", Type: models.QuestionTypeScale, Weight: 100, ScaleMin: intPtr(0), ScaleMax: intPtr(10)},
			}},
		},
	}}}

	res := Compute(sc, Answers{"yn": "Yes", "sc": "5"})
	assert.Equal(t, 80.0, res.Total)
	require.Len(t, res.Groups, 1)
	require.Len(t, res.Groups[0].Sections, 2)
	assert.Equal(t, 100.0, res.Groups[0].Sections[0].Score)
	assert.Equal(t, 50.0, res.Groups[0].Sections[1].Score)
	assert.Equal(t, 100, res.Progress)
}

func TestScore_WeightsNotNormalized(t *testing.T) {
	// Sibling question weights sum to 50, so a perfect section scores 50.
	sc := &models.Scorecard{Groups: []*models.ScorecardGroup{{
		ID: "g1", Weight: 100,
		Sections: []*models.ScorecardSection{{ID: "s1", Weight: 100, Questions: []*models.ScorecardQuestion{
			{ID: "q1", Type: models.QuestionTypeYesNo, Weight: 25},
			{ID: "q2", Type: models.QuestionTypeYesNo, Weight: 25},
		}}},
	}}}

	assert.Equal(t, 50.0, Score(sc, Answers{"q1": "Yes", "q2": "Yes"}))
}

func TestScore_RoundsToTwoDecimals(t *testing.T) {
	sc := singleQuestion(&models.ScorecardQuestion{Type: models.QuestionTypeScale, ScaleMin: intPtr(0), ScaleMax: intPtr(3)})

	assert.Equal(t, 33.33, Score(sc, Answers{"q1": "1"}))
	assert.Equal(t, 66.67, Score(sc, Answers{"q1": "2"}))
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 0.13, Round2(0.125))
	assert.Equal(t, 12.35, Round2(12.345001))
	assert.Equal(t, 80.0, Round2(80))
}

func TestProgress(t *testing.T) {
	var questions []*models.ScorecardQuestion
	for i := 0; i < 4; i++ {
		questions = append(questions, &models.ScorecardQuestion{ID: fmt.Sprintf("q%d", i), Type: models.QuestionTypeYesNo, Weight: 25})
	}
	sc := &models.Scorecard{Groups: []*models.ScorecardGroup{{
		Weight:   100,
		Sections: []*models.ScorecardSection{{Weight: 100, Questions: questions}},
	}}}

	answers := Answers{}
	assert.Equal(t, 0, Progress(sc, answers))

	prev := 0
	for i := 0; i < 4; i++ {
		answers[fmt.Sprintf("q%d", i)] = "No"
		p := Progress(sc, answers)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
	assert.Equal(t, 100, prev)

	answers["q0"] = "  "
	assert.Equal(t, 75, Progress(sc, answers), "whitespace counts as empty")
}

func TestProgress_NoQuestions(t *testing.T) {
	assert.Equal(t, 0, Progress(&models.Scorecard{}, Answers{}))
	assert.Equal(t, 0.0, Score(&models.Scorecard{}, Answers{}))
}

func TestEffectiveAnswers(t *testing.T) {
	final := "No"
	items := []*models.ReviewItem{
		{ScorecardQuestionID: "q1", InitialAnswer: "Yes", FinalAnswer: &final},
		{ScorecardQuestionID: "q2", InitialAnswer: " 3 "},
		{ScorecardQuestionID: "q3"},
	}

	a := EffectiveAnswers(items)
	assert.Equal(t, "No", a["q1"])
	assert.Equal(t, "3", a["q2"])
	assert.Equal(t, "", a["q3"])

	i := InitialAnswers(items)
	assert.Equal(t, "Yes", i["q1"])
}
