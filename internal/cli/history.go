package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/approval"
	"github.com/gzhole/aidetect/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
	historyYes   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and clear stored detections",
	Long: `Stored detections keep a redacted snippet of the input, never the full text.

Examples:
  aidetect history list --limit 10
  aidetect history show 3f2a9c
  aidetect history clear`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent detections, newest first",
	Args:  cobra.NoArgs,
	RunE:  historyListCommand,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one detection by id or unique id prefix",
	Args:  cobra.ExactArgs(1),
	RunE:  historyShowCommand,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored detection",
	Args:  cobra.NoArgs,
	RunE:  historyClearCommand,
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records (0 for all)")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "Print records as JSON")
	historyShowCmd.Flags().BoolVar(&historyJSON, "json", false, "Print the record as JSON")
	historyClearCmd.Flags().BoolVarP(&historyYes, "yes", "y", false, "Skip the confirmation prompt")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func openHistoryStore() (*history.Store, error) {
	e, err := loadEnv()
	if err != nil {
		return nil, err
	}
	return history.Open(e.cfg.History.Path)
}

func historyListCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		if records == nil {
			records = []history.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No detections recorded.")
		return nil
	}
	printRecordTable(out, records)
	return nil
}

func historyShowCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(cmd.Context(), args[0])
	if errors.Is(err, history.ErrAmbiguous) {
		return fmt.Errorf("%w; use more characters of the id", err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		return writeJSON(out, rec)
	}
	printRecord(out, rec)
	return nil
}

func historyClearCommand(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if stats.Count == 0 {
		fmt.Fprintln(out, "History is already empty.")
		return nil
	}

	if !historyYes {
		res := approval.Ask(approval.Prompt{
			Action:  fmt.Sprintf("delete %d history records", stats.Count),
			Details: []string{"database: " + store.Path()},
		})
		if !res.Approved {
			fmt.Fprintf(out, "Cancelled (%s).\n", res.UserAction)
			return nil
		}
	}

	n, err := store.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d records.\n", n)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecordTable(w io.Writer, records []history.Record) {
	fmt.Fprintf(w, "%-8s  %-19s  %-9s  %5s  %s\n", "ID", "WHEN", "TIER", "PROB", "SOURCE")
	for _, r := range records {
		fmt.Fprintf(w, "%-8s  %-19s  %-9s  %5.2f  %s\n",
			shortID(r.ID),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Tier,
			r.Probability,
			r.Source,
		)
	}
}

func printRecord(w io.Writer, r history.Record) {
	fmt.Fprintf(w, "ID:          %s\n", r.ID)
	fmt.Fprintf(w, "When:        %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Source:      %s (%d chars)\n", r.Source, r.Chars)
	fmt.Fprintf(w, "Tier:        %s\n", r.Tier)
	fmt.Fprintf(w, "Probability: %.2f\n", r.Probability)
	fmt.Fprintf(w, "Explanation: %s\n", r.Explanation)
	for _, s := range r.Skipped {
		line := fmt.Sprintf("Skipped:     %s (%s)", s.Tier, s.Reason)
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Duration:    %s\n", r.Duration)
	if r.Snippet != "" {
		fmt.Fprintf(w, "Snippet:     %s\n", strings.TrimSpace(r.Snippet))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
