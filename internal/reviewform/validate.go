package reviewform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/joescharf/scorecard/internal/models"
)

// ErrValidation matches any ValidationErrors via errors.Is.
var ErrValidation = eris.New("review form is invalid")

// FieldError is a validation message for one form field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors is the set of field errors found by Validate.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "no validation errors"
	case 1:
		return fmt.Sprintf("1 field needs attention: %s: %s", v[0].Field, v[0].Message)
	default:
		return fmt.Sprintf("%d fields need attention", len(v))
	}
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }

// For returns the message for a field, if any.
func (v ValidationErrors) For(field string) (string, bool) {
	for _, fe := range v {
		if fe.Field == field {
			return fe.Message, true
		}
	}
	return "", false
}

// AnswerField is the form field name of an entry's answer.
func AnswerField(i int) string {
	return fmt.Sprintf("reviewItems.%d.initialAnswer", i)
}

// CommentField is the form field name of a comment's content.
func CommentField(i, j int) string {
	return fmt.Sprintf("reviewItems.%d.reviewItemComments.%d.content", i, j)
}

// QuestionField is the form field name of a scorecard question that has no
// review item.
func QuestionField(questionID string) string {
	return fmt.Sprintf("questions.%s.answer", questionID)
}

// Validate checks entries against the scorecard. Answers that are present
// must parse for their question type. With complete set, every scorecard
// question must have an entry with a non-empty answer and every REQUIRED
// comment must be non-empty.
func Validate(sc *models.Scorecard, entries []Entry, complete bool) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		seen[e.QuestionID] = true
		answer := strings.TrimSpace(e.InitialAnswer)
		q, ok := sc.Question(e.QuestionID)
		switch {
		case answer == "":
			if complete {
				errs = append(errs, FieldError{AnswerField(i), "Answer is required"})
			}
		case !ok:
			errs = append(errs, FieldError{AnswerField(i), "Unknown scorecard question"})
		default:
			if msg := checkAnswer(q, answer); msg != "" {
				errs = append(errs, FieldError{AnswerField(i), msg})
			}
		}

		if !complete {
			continue
		}
		for j, c := range e.Comments {
			if c.Type == models.CommentTypeRequired && strings.TrimSpace(c.Content) == "" {
				errs = append(errs, FieldError{CommentField(i, j), "Comment is required"})
			}
		}
	}
	if complete {
		for _, q := range sc.Questions() {
			if !seen[q.ID] {
				errs = append(errs, FieldError{QuestionField(q.ID), "Answer is required"})
			}
		}
	}
	return errs
}

func checkAnswer(q *models.ScorecardQuestion, answer string) string {
	switch q.Type {
	case models.QuestionTypeYesNo:
		if answer != models.AnswerYes && answer != models.AnswerNo {
			return "Answer must be Yes or No"
		}
	case models.QuestionTypeScale:
		v, err := strconv.Atoi(answer)
		if err != nil {
			return "Answer must be a whole number"
		}
		lo, hi := q.Range()
		if v < lo || v > hi {
			return fmt.Sprintf("Answer must be between %d and %d", lo, hi)
		}
	}
	return ""
}
