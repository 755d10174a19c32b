package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/logger"
)

var (
	logFilterTier string
	logMinProb    float64
	logLast       int
	logSummary    bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the detection audit log",
	Long: `View the audit log with filtering and summary options.

Examples:
  aidetect log                       # Show all entries
  aidetect log --last 20             # Show last 20 entries
  aidetect log --tier heuristic      # Show only heuristic answers
  aidetect log --min 0.8             # Show only likely machine-generated inputs
  aidetect log --summary             # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterTier, "tier", "", "Filter by answering tier (model, prompt, heuristic, input)")
	logCmd.Flags().Float64Var(&logMinProb, "min", 0, "Show only entries with at least this probability")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	events, err := readAuditLog(e.cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events, logFilterTier, logMinProb)
	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, events)
		return nil
	}

	printEvents(out, filtered)
	return nil
}

func readAuditLog(path string) ([]logger.DetectionEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []logger.DetectionEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event logger.DetectionEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // skip malformed lines
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

func filterEvents(events []logger.DetectionEvent, tier string, minProb float64) []logger.DetectionEvent {
	if tier == "" && minProb <= 0 {
		return events
	}

	var filtered []logger.DetectionEvent
	for _, e := range events {
		if tier != "" && !strings.EqualFold(e.Tier, tier) {
			continue
		}
		if e.Probability < minProb {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, events []logger.DetectionEvent) {
	for _, e := range events {
		fmt.Fprintf(w, "%s %s %s  %.2f via %s\n", tierIcon(e.Tier), formatTimestamp(e.Timestamp), e.Source, e.Probability, e.Tier)
		fmt.Fprintf(w, "     %s\n", e.Explanation)
		for _, s := range e.Skipped {
			fmt.Fprintf(w, "     Skipped: %s (%s)\n", s.Tier, s.Reason)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", e.Error)
		}
		if e.Snippet != "" {
			fmt.Fprintf(w, "     Text: %s\n", e.Snippet)
		}
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, all []logger.DetectionEvent) {
	counts := map[string]int{}
	likely := 0
	var sum float64
	for _, e := range all {
		counts[e.Tier]++
		sum += e.Probability
		if e.Probability > 0.6 {
			likely++
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintln(w, "  aidetect Audit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  Total events:     %d\n", len(all))
	fmt.Fprintf(w, "  Model answers:    %d\n", counts[detector.TierModel])
	fmt.Fprintf(w, "  Prompt answers:   %d\n", counts[detector.TierPrompt])
	fmt.Fprintf(w, "  Heuristic:        %d\n", counts[detector.TierHeuristic])
	fmt.Fprintf(w, "  Empty input:      %d\n", counts[detector.TierInput])
	fmt.Fprintf(w, "  Mean probability: %.2f\n", sum/float64(len(all)))
	fmt.Fprintf(w, "  Likely generated: %d\n", likely)
	fmt.Fprintln(w, "═══════════════════════════════════════════")

	fmt.Fprintf(w, "  First event:      %s\n", formatTimestamp(all[0].Timestamp))
	fmt.Fprintf(w, "  Last event:       %s\n", formatTimestamp(all[len(all)-1].Timestamp))
	fmt.Fprintln(w)
}

func tierIcon(tier string) string {
	switch tier {
	case detector.TierModel:
		return "\xf0\x9f\xa7\xa0" // brain
	case detector.TierPrompt:
		return "\xf0\x9f\x92\xac" // speech balloon
	case detector.TierHeuristic:
		return "\xf0\x9f\x93\x8f" // ruler
	default:
		return "\xe2\x9d\x93" // question mark
	}
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
