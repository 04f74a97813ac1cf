package cmd

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/appeal"
	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/output"
)

var (
	appealCommentID   string
	appealID          string
	appealText        string
	appealSuccess     bool
	appealFinalAnswer string
)

var appealCmd = &cobra.Command{
	Use:   "appeal",
	Short: "Raise, answer, and withdraw appeals on review comments",
}

var appealRaiseCmd = &cobra.Command{
	Use:   "raise <review-id>",
	Short: "Appeal a comment on a committed review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appealRaiseRun(cmd, args[0])
	},
}

var appealDeleteCmd = &cobra.Command{
	Use:     "delete <review-id>",
	Aliases: []string{"rm"},
	Short:   "Withdraw an appeal",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appealDeleteRun(cmd, args[0])
	},
}

var appealRespondCmd = &cobra.Command{
	Use:   "respond <review-id>",
	Short: "Grant or deny an appeal",
	Long: `Record a response to an appeal. --success grants it.

With --final-answer the question's final answer is overridden and the
review's final score recomputed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appealRespondRun(cmd, args[0])
	},
}

var appealListCmd = &cobra.Command{
	Use:     "list <review-id>",
	Aliases: []string{"ls"},
	Short:   "List appeals on a review",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return appealListRun(cmd, args[0])
	},
}

func init() {
	appealRaiseCmd.Flags().StringVar(&appealCommentID, "comment", "", "Review item comment ID (required)")
	appealRaiseCmd.Flags().StringVar(&appealText, "text", "", "Appeal text (required)")
	_ = appealRaiseCmd.MarkFlagRequired("comment")
	_ = appealRaiseCmd.MarkFlagRequired("text")

	appealDeleteCmd.Flags().StringVar(&appealID, "appeal", "", "Appeal ID (required)")
	_ = appealDeleteCmd.MarkFlagRequired("appeal")

	appealRespondCmd.Flags().StringVar(&appealID, "appeal", "", "Appeal ID (required)")
	appealRespondCmd.Flags().StringVar(&appealText, "text", "", "Response text (required)")
	appealRespondCmd.Flags().BoolVar(&appealSuccess, "success", false, "Grant the appeal")
	appealRespondCmd.Flags().StringVar(&appealFinalAnswer, "final-answer", "", "Override the question's final answer")
	_ = appealRespondCmd.MarkFlagRequired("appeal")
	_ = appealRespondCmd.MarkFlagRequired("text")

	appealCmd.AddCommand(appealRaiseCmd)
	appealCmd.AddCommand(appealDeleteCmd)
	appealCmd.AddCommand(appealRespondCmd)
	appealCmd.AddCommand(appealListCmd)
	rootCmd.AddCommand(appealCmd)
}

// loadWorkflow fetches a review and indexes its appeals.
func loadWorkflow(cmd *cobra.Command, reviewID string) (*appeal.Workflow, error) {
	b, err := getBackend()
	if err != nil {
		return nil, err
	}
	sc, review, err := loadReview(cmdContext(cmd), b, reviewID)
	if err != nil {
		return nil, err
	}
	wf := appeal.New(b, appeal.WithLogger(zap.L().Named("appeal")))
	wf.Load(sc, review)
	return wf, nil
}

// itemForAppeal returns the review item whose comment carries an appeal.
func itemForAppeal(review *models.Review, id string) (*models.ReviewItem, bool) {
	for _, it := range review.ReviewItems {
		for _, c := range it.ReviewItemComments {
			if c.Appeal != nil && c.Appeal.ID == id {
				return it, true
			}
		}
	}
	return nil, false
}

func appealRaiseRun(cmd *cobra.Command, reviewID string) error {
	wf, err := loadWorkflow(cmd, reviewID)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would appeal comment %s: %s", appealCommentID, appealText)
		return nil
	}
	a, err := wf.RaiseAppeal(cmdContext(cmd), appealText, appealCommentID)
	if err != nil {
		return err
	}
	ui.Success("Raised appeal %s on comment %s", output.Cyan(a.ID), appealCommentID)
	return nil
}

func appealDeleteRun(cmd *cobra.Command, reviewID string) error {
	wf, err := loadWorkflow(cmd, reviewID)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would delete appeal %s", appealID)
		return nil
	}
	if err := wf.DeleteAppeal(cmdContext(cmd), appealID); err != nil {
		return err
	}
	ui.Success("Deleted appeal %s", appealID)
	return nil
}

func appealRespondRun(cmd *cobra.Command, reviewID string) error {
	wf, err := loadWorkflow(cmd, reviewID)
	if err != nil {
		return err
	}
	item, ok := itemForAppeal(wf.Review(), appealID)
	if !ok {
		return eris.Wrapf(appeal.ErrAppealNotFound, "appeal %s", appealID)
	}

	in := appeal.ResponseInput{
		AppealID: appealID,
		ItemID:   item.ID,
		Content:  appealText,
		Success:  appealSuccess,
	}
	if appealFinalAnswer != "" {
		fa := appealFinalAnswer
		in.FinalAnswer = &fa
	}

	if dryRun {
		ui.DryRunMsg("Would respond to appeal %s (granted=%t)", appealID, appealSuccess)
		return nil
	}
	if _, err := wf.AddAppealResponse(cmdContext(cmd), in); err != nil {
		return err
	}

	verdict := output.Red("denied")
	if appealSuccess {
		verdict = output.Green("granted")
	}
	ui.Success("Appeal %s %s", appealID, verdict)
	if in.FinalAnswer != nil {
		ui.Info("Final score now %s", output.ScoreColor(wf.Review().FinalScore))
	}
	return nil
}

func appealListRun(cmd *cobra.Command, reviewID string) error {
	wf, err := loadWorkflow(cmd, reviewID)
	if err != nil {
		return err
	}
	appeals := wf.MappingAppeals()
	if len(appeals) == 0 {
		ui.Info("No appeals on review %s.", reviewID)
		return nil
	}

	commentIDs := make([]string, 0, len(appeals))
	for id := range appeals {
		commentIDs = append(commentIDs, id)
	}
	sort.Strings(commentIDs)

	table := ui.Table([]string{"Appeal", "Comment", "State", "Appeal Text", "Response"})
	for _, cid := range commentIDs {
		a := appeals[cid]
		st := wf.Status(cid)
		resp := ""
		if a.AppealResponse != nil {
			resp = a.AppealResponse.Content
		}
		_ = table.Append([]string{a.ID, cid, output.AppealColor(st.State.String()), a.Content, resp})
	}
	return table.Render()
}
