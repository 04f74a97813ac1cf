package output

import (
	"fmt"
	"strings"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/scoring"
)

// AppealStatusFunc reports the appeal state of a comment and whether an
// action on it is in flight.
type AppealStatusFunc func(commentID string) (state string, busy bool)

// ReviewView is everything the scorecard renderer draws.
type ReviewView struct {
	Scorecard *models.Scorecard
	Review    *models.Review
	Result    *scoring.Result
	Answers   scoring.Answers
	Appeals   AppealStatusFunc
	// Errors maps question id to a visible validation message.
	Errors map[string]string
}

// RenderReview prints the scorecard hierarchy with answers, ordered
// comments, appeal state, and the running score and progress.
func (u *UI) RenderReview(v ReviewView) error {
	state := Yellow("draft")
	if v.Review.Committed {
		state = Cyan("committed")
	}
	fmt.Fprintf(u.Out, "%s  %s  review %s [%s]\n", Cyan(v.Scorecard.Name), v.Scorecard.Version, v.Review.ID, state)
	if v.Review.UpdatedAtString != "" {
		fmt.Fprintf(u.Out, "Updated %s\n", v.Review.UpdatedAtString)
	}
	fmt.Fprintf(u.Out, "Score %s  Progress %s (%d/%d)\n",
		ScoreColor(v.Result.Total), ProgressColor(v.Result.Progress), v.Result.Answered, v.Result.Count)

	items := make(map[string]*models.ReviewItem, len(v.Review.ReviewItems))
	for _, it := range v.Review.ReviewItems {
		items[it.ScorecardQuestionID] = it
	}

	for gi, g := range v.Scorecard.Groups {
		gr := groupResult(v.Result, gi)
		fmt.Fprintln(u.Out)
		fmt.Fprintf(u.Out, "%s (weight %s) %s\n", g.Name, formatWeight(g.Weight), ScoreColor(gr.Score))
		for si, sec := range g.Sections {
			fmt.Fprintf(u.Out, "  %s (weight %s) %s\n", sec.Name, formatWeight(sec.Weight), ScoreColor(sectionScore(gr, si)))
			table := u.Table([]string{"Question", "Type", "Weight", "Answer", "Points"})
			for _, q := range sec.Questions {
				answer := v.Answers[q.ID]
				if msg, ok := v.Errors[q.ID]; ok {
					answer = strings.TrimSpace(answer + " " + Red(msg))
				}
				_ = table.Append([]string{
					q.Description,
					string(q.Type),
					formatWeight(q.Weight),
					answer,
					fmt.Sprintf("%.2f", scoring.QuestionPoints(q, v.Answers[q.ID])),
				})
				if it, ok := items[q.ID]; ok {
					for _, row := range u.commentRows(it, v.Appeals) {
						_ = table.Append(row)
					}
				}
			}
			_ = table.Render()
		}
	}
	return nil
}

func (u *UI) commentRows(it *models.ReviewItem, appeals AppealStatusFunc) [][]string {
	var rows [][]string
	for _, c := range it.ReviewItemComments {
		if c.ID == "" && c.Content == "" {
			continue
		}
		line := fmt.Sprintf("  > [%s] %s", commentLabel(c.Type), c.Content)
		appeal := ""
		if appeals != nil && c.ID != "" {
			state, busy := appeals(c.ID)
			if state != "" && state != "none" {
				appeal = "appeal " + AppealColor(state)
			}
			if busy {
				appeal = strings.TrimSpace(appeal + " " + Yellow("saving"))
			}
		}
		rows = append(rows, []string{line, "", "", appeal, ""})
	}
	if it.ManagerComment != nil && *it.ManagerComment != "" {
		rows = append(rows, []string{fmt.Sprintf("  > [%s] %s", models.CommentTypeManagerComment, *it.ManagerComment), "", "", "", ""})
	}
	return rows
}

func commentLabel(t models.CommentType) string {
	if t == "" {
		return string(models.CommentTypeComment)
	}
	return string(t)
}

func formatWeight(w float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", w), "0"), ".")
}

func groupResult(r *scoring.Result, i int) scoring.GroupResult {
	if r == nil || i >= len(r.Groups) {
		return scoring.GroupResult{}
	}
	return r.Groups[i]
}

func sectionScore(g scoring.GroupResult, i int) float64 {
	if i >= len(g.Sections) {
		return 0
	}
	return g.Sections[i].Score
}
