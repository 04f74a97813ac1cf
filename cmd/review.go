package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/appeal"
	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/output"
	"github.com/joescharf/scorecard/internal/reviewform"
	"github.com/joescharf/scorecard/internal/scoring"
	"github.com/joescharf/scorecard/internal/store"
)

var (
	reviewScorecardID  string
	reviewSubmissionID string
	reviewResourceID   string
	reviewPhaseID      string
	reviewCommitted    string

	reviewAnswers        []string
	reviewComments       []string
	reviewRemoveComments []string
	reviewComplete       bool

	managerQuestion string
	managerText     string
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	Aliases: []string{"rv"},
	Short:   "Create, edit, and score reviews",
}

var reviewCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a blank review of a submission",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewCreateRun(cmd)
	},
}

var reviewListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun(cmd)
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review with answers, comments, and appeals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(cmd, args[0])
	},
}

var reviewScoreCmd = &cobra.Command{
	Use:   "score <review-id>",
	Short: "Compute a review's score and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewScoreRun(cmd, args[0])
	},
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <review-id>",
	Short: "Answer questions and comment, then save a draft or mark complete",
	Long: `Edit a review and save it.

Answers are given as question=value, comments as question[:TYPE]=text.
Without --complete the review is saved as a draft. With --complete every
question must be answered and every REQUIRED comment filled in.

  scorecard review edit 01J... --answer q1=Yes --answer q2=7 \
    --comment q1:REQUIRED="Fix the build" --complete`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewEditRun(cmd, args[0])
	},
}

var reviewManagerCommentCmd = &cobra.Command{
	Use:   "manager-comment <review-id>",
	Short: "Set the manager comment on a question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewManagerCommentRun(cmd, args[0])
	},
}

func init() {
	reviewCreateCmd.Flags().StringVar(&reviewScorecardID, "scorecard", "", "Scorecard ID (required)")
	reviewCreateCmd.Flags().StringVar(&reviewSubmissionID, "submission", "", "Submission ID")
	reviewCreateCmd.Flags().StringVar(&reviewResourceID, "resource", "", "Reviewer resource ID")
	reviewCreateCmd.Flags().StringVar(&reviewPhaseID, "phase", "", "Phase ID")
	_ = reviewCreateCmd.MarkFlagRequired("scorecard")

	reviewListCmd.Flags().StringVar(&reviewScorecardID, "scorecard", "", "Filter by scorecard")
	reviewListCmd.Flags().StringVar(&reviewSubmissionID, "submission", "", "Filter by submission")
	reviewListCmd.Flags().StringVar(&reviewResourceID, "resource", "", "Filter by reviewer resource")
	reviewListCmd.Flags().StringVar(&reviewCommitted, "committed", "", "Filter by committed state (true or false)")

	reviewEditCmd.Flags().StringArrayVar(&reviewAnswers, "answer", nil, "Answer as question=value (repeatable)")
	reviewEditCmd.Flags().StringArrayVar(&reviewComments, "comment", nil, "Comment as question[:TYPE]=text (repeatable)")
	reviewEditCmd.Flags().StringArrayVar(&reviewRemoveComments, "remove-comment", nil, "Remove comment as question=index (repeatable)")
	reviewEditCmd.Flags().BoolVar(&reviewComplete, "complete", false, "Mark the review complete instead of saving a draft")

	reviewManagerCommentCmd.Flags().StringVar(&managerQuestion, "question", "", "Scorecard question ID (required)")
	reviewManagerCommentCmd.Flags().StringVar(&managerText, "text", "", "Manager comment text (required)")
	_ = reviewManagerCommentCmd.MarkFlagRequired("question")
	_ = reviewManagerCommentCmd.MarkFlagRequired("text")

	reviewCmd.AddCommand(reviewCreateCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewScoreCmd)
	reviewCmd.AddCommand(reviewEditCmd)
	reviewCmd.AddCommand(reviewManagerCommentCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewCreateRun(cmd *cobra.Command) error {
	req := &models.NewReviewRequest{
		ScorecardID:  reviewScorecardID,
		SubmissionID: reviewSubmissionID,
		ResourceID:   reviewResourceID,
		PhaseID:      reviewPhaseID,
	}
	if dryRun {
		ui.DryRunMsg("Would create review of submission %q against scorecard %s", req.SubmissionID, req.ScorecardID)
		return nil
	}

	b, err := getBackend()
	if err != nil {
		return err
	}
	review, err := b.CreateReview(cmdContext(cmd), req)
	if err != nil {
		return err
	}
	ui.Success("Created review %s (%d questions)", output.Cyan(review.ID), len(review.ReviewItems))
	return nil
}

func reviewListRun(cmd *cobra.Command) error {
	filter := store.ReviewListFilter{
		ScorecardID:  reviewScorecardID,
		SubmissionID: reviewSubmissionID,
		ResourceID:   reviewResourceID,
	}
	if reviewCommitted != "" {
		v, err := strconv.ParseBool(reviewCommitted)
		if err != nil {
			return eris.Errorf("--committed must be true or false, got %q", reviewCommitted)
		}
		filter.Committed = &v
	}

	b, err := getBackend()
	if err != nil {
		return err
	}
	list, err := b.ListReviews(cmdContext(cmd), filter)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		ui.Info("No reviews found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Scorecard", "Submission", "Resource", "State", "Final", "Updated"})
	for _, r := range list {
		state := output.Yellow("draft")
		if r.Committed {
			state = output.Cyan("committed")
		}
		_ = table.Append([]string{
			r.ID,
			r.ScorecardID,
			r.SubmissionID,
			r.ResourceID,
			state,
			output.ScoreColor(r.FinalScore),
			r.UpdatedAtString,
		})
	}
	return table.Render()
}

// appealStatuses adapts a workflow to the renderer's status callback.
func appealStatuses(wf *appeal.Workflow) output.AppealStatusFunc {
	return func(commentID string) (string, bool) {
		st := wf.Status(commentID)
		return st.State.String(), st.Busy
	}
}

func reviewShowRun(cmd *cobra.Command, id string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	sc, review, err := loadReview(cmdContext(cmd), b, id)
	if err != nil {
		return err
	}

	form := reviewform.New(b)
	form.Load(sc, review, false)
	wf := appeal.New(b)
	wf.Load(sc, review)

	return ui.RenderReview(output.ReviewView{
		Scorecard: sc,
		Review:    form.Review(),
		Result:    form.Result(),
		Answers:   form.Answers(),
		Appeals:   appealStatuses(wf),
	})
}

func reviewScoreRun(cmd *cobra.Command, id string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	sc, review, err := loadReview(cmdContext(cmd), b, id)
	if err != nil {
		return err
	}

	res := scoring.Compute(sc, scoring.EffectiveAnswers(review.ReviewItems))
	fmt.Fprintf(ui.Out, "Score     %s\n", output.ScoreColor(res.Total))
	fmt.Fprintf(ui.Out, "Progress  %s (%d/%d)\n", output.ProgressColor(res.Progress), res.Answered, res.Count)
	if review.Committed {
		fmt.Fprintf(ui.Out, "Stored    final %.2f, initial %.2f\n", review.FinalScore, review.InitialScore)
	}
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Group", "Section", "Weight", "Score"})
	for _, g := range res.Groups {
		_ = table.Append([]string{g.Name, "", fmt.Sprintf("%g", g.Weight), output.ScoreColor(g.Score)})
		for _, s := range g.Sections {
			_ = table.Append([]string{"", s.Name, fmt.Sprintf("%g", s.Weight), output.ScoreColor(s.Score)})
		}
	}
	return table.Render()
}

// parseAssignment splits "key=value".
func parseAssignment(flag, raw string) (string, string, error) {
	key, value, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", eris.Errorf("--%s %q: expected question=value", flag, raw)
	}
	return key, value, nil
}

// parseCommentFlag splits "question[:TYPE]=text". A missing type is COMMENT.
func parseCommentFlag(raw string) (string, models.CommentType, string, error) {
	key, text, err := parseAssignment("comment", raw)
	if err != nil {
		return "", "", "", err
	}
	question, typ, _ := strings.Cut(key, ":")
	ct := models.CommentType(strings.ToUpper(strings.TrimSpace(typ)))
	if ct == "" {
		ct = models.CommentTypeComment
	}
	if !ct.Known() {
		return "", "", "", eris.Errorf("--comment %q: unknown comment type %s", raw, ct)
	}
	return question, ct, text, nil
}

// applyEdits feeds the edit flags into the form.
func applyEdits(form *reviewform.Controller) error {
	for _, raw := range reviewAnswers {
		q, v, err := parseAssignment("answer", raw)
		if err != nil {
			return err
		}
		if err := form.SetAnswer(q, v); err != nil {
			return eris.Wrapf(err, "answer %s", q)
		}
		form.Touch(answerFieldFor(form, q))
	}
	for _, raw := range reviewRemoveComments {
		q, v, err := parseAssignment("remove-comment", raw)
		if err != nil {
			return err
		}
		j, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return eris.Errorf("--remove-comment %q: index must be a number", raw)
		}
		if err := form.RemoveComment(q, j); err != nil {
			return eris.Wrapf(err, "remove comment %s", raw)
		}
	}
	for _, raw := range reviewComments {
		q, typ, text, err := parseCommentFlag(raw)
		if err != nil {
			return err
		}
		if err := form.AddComment(q, text, typ); err != nil {
			return eris.Wrapf(err, "comment %s", q)
		}
	}
	return nil
}

func answerFieldFor(form *reviewform.Controller, questionID string) string {
	for i, e := range form.Entries() {
		if e.QuestionID == questionID {
			return reviewform.AnswerField(i)
		}
	}
	return ""
}

// fieldErrorsByQuestion maps form field errors onto the question they
// belong to, for display next to the answer.
func fieldErrorsByQuestion(sc *models.Scorecard, entries []reviewform.Entry, errs reviewform.ValidationErrors) map[string]string {
	out := map[string]string{}
	for i, e := range entries {
		var msgs []string
		if msg, ok := errs.For(reviewform.AnswerField(i)); ok {
			msgs = append(msgs, msg)
		}
		for j := range e.Comments {
			if msg, ok := errs.For(reviewform.CommentField(i, j)); ok {
				msgs = append(msgs, fmt.Sprintf("comment %d: %s", j+1, msg))
			}
		}
		if len(msgs) > 0 {
			out[e.QuestionID] = strings.Join(msgs, "; ")
		}
	}
	for _, q := range sc.Questions() {
		if msg, ok := errs.For(reviewform.QuestionField(q.ID)); ok {
			out[q.ID] = msg
		}
	}
	return out
}

// previewReview returns a copy of review whose items carry the form's
// pending answers and comments.
func previewReview(review *models.Review, entries []reviewform.Entry) *models.Review {
	out := *review
	out.ReviewItems = make([]*models.ReviewItem, 0, len(entries))
	for _, e := range entries {
		it := &models.ReviewItem{
			ID:                  e.ItemID,
			ScorecardQuestionID: e.QuestionID,
			InitialAnswer:       e.InitialAnswer,
			FinalAnswer:         e.FinalAnswer,
			ManagerComment:      e.ManagerComment,
		}
		var stored *models.ReviewItem
		if e.ItemID != "" {
			stored, _ = review.FindItem(e.ItemID)
		}
		for _, c := range e.Comments {
			rc := &models.ReviewItemComment{ID: c.ID, Content: c.Content, Type: c.Type, SortOrder: c.SortOrder}
			if stored != nil && c.ID != "" {
				if prev, ok := stored.FindComment(c.ID); ok {
					rc.Appeal = prev.Appeal
				}
			}
			it.ReviewItemComments = append(it.ReviewItemComments, rc)
		}
		out.ReviewItems = append(out.ReviewItems, it)
	}
	return &out
}

func renderForm(sc *models.Scorecard, form *reviewform.Controller, errs reviewform.ValidationErrors) error {
	entries := form.Entries()
	return ui.RenderReview(output.ReviewView{
		Scorecard: sc,
		Review:    previewReview(form.Review(), entries),
		Result:    form.Result(),
		Answers:   form.Answers(),
		Errors:    fieldErrorsByQuestion(sc, entries, errs),
	})
}

func reviewEditRun(cmd *cobra.Command, id string) error {
	ctx := cmdContext(cmd)
	b, err := getBackend()
	if err != nil {
		return err
	}
	sc, review, err := loadReview(ctx, b, id)
	if err != nil {
		return err
	}

	form := reviewform.New(b, reviewform.WithNotifier(ui), reviewform.WithLogger(zap.L().Named("reviewform")))
	form.Load(sc, review, true)
	if err := applyEdits(form); err != nil {
		return err
	}

	if dryRun {
		errs := reviewform.Validate(sc, form.Entries(), reviewComplete)
		if err := renderForm(sc, form, errs); err != nil {
			return err
		}
		fmt.Fprintln(ui.Out)
		if len(errs) > 0 {
			ui.DryRunMsg("Would not save: %s", errs.Error())
			return nil
		}
		ui.DryRunMsg("Would save review %s (complete=%t)", id, reviewComplete)
		return nil
	}

	err = saveForm(ctx, form)
	var verrs reviewform.ValidationErrors
	if errors.As(err, &verrs) {
		_ = renderForm(sc, form, form.Errors())
		fmt.Fprintln(ui.Out)
		return err
	}
	if err != nil {
		return err
	}
	return renderForm(sc, form, nil)
}

func saveForm(ctx context.Context, form *reviewform.Controller) error {
	if reviewComplete {
		return form.MarkComplete(ctx)
	}
	return form.SaveDraft(ctx)
}

// itemForQuestion returns the review item answering a scorecard question.
func itemForQuestion(review *models.Review, questionID string) (*models.ReviewItem, bool) {
	for _, it := range review.ReviewItems {
		if it.ScorecardQuestionID == questionID {
			return it, true
		}
	}
	return nil, false
}

func reviewManagerCommentRun(cmd *cobra.Command, id string) error {
	ctx := cmdContext(cmd)
	b, err := getBackend()
	if err != nil {
		return err
	}
	sc, review, err := loadReview(ctx, b, id)
	if err != nil {
		return err
	}
	item, ok := itemForQuestion(review, managerQuestion)
	if !ok {
		return eris.Wrapf(appeal.ErrItemNotFound, "question %s", managerQuestion)
	}

	if dryRun {
		ui.DryRunMsg("Would set manager comment on %s: %s", managerQuestion, managerText)
		return nil
	}

	wf := appeal.New(b, appeal.WithLogger(zap.L().Named("appeal")))
	wf.Load(sc, review)
	if err := wf.AddManagerComment(ctx, managerText, item.ID); err != nil {
		return err
	}
	ui.Success("Manager comment saved on %s", managerQuestion)
	return nil
}
