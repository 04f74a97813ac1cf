package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/scorecard/internal/models"
	"github.com/joescharf/scorecard/internal/output"
)

var scorecardCmd = &cobra.Command{
	Use:     "scorecard",
	Aliases: []string{"sc"},
	Short:   "Manage scorecard definitions",
	Long:    "Import, list, and show weighted scorecards that reviews are scored against.",
}

var scorecardImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a scorecard from a YAML or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scorecardImportRun(cmd, args[0])
	},
}

var scorecardListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List scorecards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return scorecardListRun(cmd)
	},
}

var scorecardShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a scorecard's groups, sections, and questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scorecardShowRun(cmd, args[0])
	},
}

func init() {
	scorecardCmd.AddCommand(scorecardImportCmd)
	scorecardCmd.AddCommand(scorecardListCmd)
	scorecardCmd.AddCommand(scorecardShowCmd)
	rootCmd.AddCommand(scorecardCmd)
}

// readScorecardFile decodes a scorecard definition. Files ending in .json
// use the API field names; anything else is read as YAML.
func readScorecardFile(path string) (*models.Scorecard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}

	var sc models.Scorecard
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &sc)
	} else {
		err = yaml.Unmarshal(data, &sc)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	return &sc, nil
}

func scorecardImportRun(cmd *cobra.Command, path string) error {
	sc, err := readScorecardFile(path)
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	for _, w := range sc.WeightWarnings() {
		ui.Warning("%s", w)
	}

	if dryRun {
		ui.DryRunMsg("Would import scorecard %q (%d questions)", sc.Name, len(sc.Questions()))
		return nil
	}

	b, err := getBackend()
	if err != nil {
		return err
	}
	if err := b.CreateScorecard(cmdContext(cmd), sc); err != nil {
		return err
	}
	ui.Success("Imported scorecard %s (%s)", output.Cyan(sc.Name), sc.ID)
	return nil
}

func scorecardListRun(cmd *cobra.Command) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	list, err := b.ListScorecards(cmdContext(cmd))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		ui.Info("No scorecards. Use 'scorecard scorecard import <file>' to add one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Version", "Groups", "Questions"})
	for _, sc := range list {
		_ = table.Append([]string{
			sc.ID,
			output.Cyan(sc.Name),
			sc.Version,
			fmt.Sprintf("%d", len(sc.Groups)),
			fmt.Sprintf("%d", len(sc.Questions())),
		})
	}
	return table.Render()
}

func scorecardShowRun(cmd *cobra.Command, id string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	sc, err := b.GetScorecard(cmdContext(cmd), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s  (%s)\n", output.Cyan(sc.Name), sc.Version, sc.ID)
	for _, g := range sc.Groups {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "%s (weight %g)\n", g.Name, g.Weight)
		for _, sec := range g.Sections {
			fmt.Fprintf(ui.Out, "  %s (weight %g)\n", sec.Name, sec.Weight)
			for _, q := range sec.Questions {
				kind := string(q.Type)
				if q.Type == models.QuestionTypeScale {
					lo, hi := q.Range()
					kind = fmt.Sprintf("%s %d-%d", q.Type, lo, hi)
				}
				fmt.Fprintf(ui.Out, "    [%s] %s (%s, weight %g)\n", q.ID, q.Description, kind, q.Weight)
			}
		}
	}
	for _, w := range sc.WeightWarnings() {
		ui.Warning("%s", w)
	}
	return nil
}
