package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scalytics/parley/internal/assistant"
	"github.com/scalytics/parley/internal/feedback"
)

var (
	feedbackDBFlag  string
	feedbackOutFlag string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Work with reaction-captured training examples",
}

var feedbackExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write captured examples as fine-tuning JSONL",
	RunE:  runFeedbackExport,
}

func runFeedbackExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dbPath := cfg.Feedback.DBPath
	if feedbackDBFlag != "" {
		dbPath = feedbackDBFlag
	}
	prompts, err := assistant.LoadPrompts(cfg.Prompts.Path)
	if err != nil {
		return err
	}
	systemPrompt := assistant.NewService(nil, cfg.Models, prompts, cfg.Prompts.PersonaName, nil).SystemPrompt()

	store, err := feedback.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = cmd.OutOrStdout()
	if feedbackOutFlag != "" && feedbackOutFlag != "-" {
		f, err := os.Create(feedbackOutFlag)
		if err != nil {
			return fmt.Errorf("create %s: %w", feedbackOutFlag, err)
		}
		defer f.Close()
		w = f
	}
	n, err := store.Export(cmd.Context(), w, systemPrompt)
	if err != nil {
		return err
	}
	if w != cmd.OutOrStdout() {
		fmt.Fprintln(cmd.OutOrStdout(), color.GreenString("✓ Exported %d examples to %s", n, feedbackOutFlag))
	}
	return nil
}

func init() {
	feedbackExportCmd.Flags().StringVar(&feedbackDBFlag, "db", "", "feedback database (default from config)")
	feedbackExportCmd.Flags().StringVarP(&feedbackOutFlag, "out", "o", "", "output file (default stdout)")
	feedbackCmd.AddCommand(feedbackExportCmd)
}
