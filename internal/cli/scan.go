package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/generator"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Self-test: verify the detection cascade on known samples",
	Long: `Run a quick diagnostic of the detection cascade against fixed samples.
The built-in checks need no model server or provider; when either is
configured, one extra sample is run through the live cascade to show which
tier answers.

  aidetect scan`,
	RunE: scanCommand,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

const scanStockText = "Furthermore, the results are clear. Moreover, the data supports the plan. In conclusion, overall the approach works."

type scanCase struct {
	label      string
	text       string
	capability detector.Capability
	check      func(detector.Report) bool
}

type scanResult struct {
	label  string
	report detector.Report
	pass   bool
}

func selfTestCases() []scanCase {
	stub := func(resp string) detector.Capability {
		return generator.Capability(&generator.Stub{Response: resp})
	}
	return []scanCase{
		{
			label: "Empty input",
			text:  "   ",
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierInput && r.Result.Probability == 0
			},
		},
		{
			label: "Too short",
			text:  "Hi there",
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierHeuristic && r.Result.Probability == 0
			},
		},
		{
			label: "Stock phrases",
			text:  scanStockText,
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierHeuristic && r.Result.Probability >= 0.3 &&
					strings.HasSuffix(r.Result.Explanation, detector.HeuristicTag)
			},
		},
		{
			label: "Plain note",
			text:  "went to the shop. bought milk.",
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierHeuristic && r.Result.Probability < 0.3
			},
		},
		{
			label:      "Provider answer",
			text:       scanStockText,
			capability: stub("Probability: 0.9\nExplanation: test"),
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierPrompt && r.Result == detector.Result{Probability: 0.9, Explanation: "test"}
			},
		},
		{
			label:      "Malformed answer",
			text:       scanStockText,
			capability: stub("Probability: abc\nExplanation: unsure"),
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierPrompt && r.Result.Probability == 0.5 && r.Result.Explanation == "unsure"
			},
		},
		{
			label:      "Provider failure",
			text:       scanStockText,
			capability: generator.Capability(&generator.Stub{Err: errors.New("quota exceeded")}),
			check: func(r detector.Report) bool {
				return r.Tier == detector.TierHeuristic && len(r.Skipped) == 2
			},
		},
		{
			label: "Hidden characters",
			text:  "Plain\u200B text\u202E with hidden marks.",
			check: func(r detector.Report) bool {
				return len(r.Findings) > 0 && r.Tier == detector.TierHeuristic
			},
		},
	}
}

// runSelfTest runs the fixed cases on a cascade with no model runtime, so the
// results do not depend on the environment.
func runSelfTest(ctx context.Context, log *slog.Logger) []scanResult {
	pipeline := detector.NewDefaultPipeline(nil, time.Second,
		detector.WithLogger(log),
		detector.WithSanitizer(true),
	)
	var results []scanResult
	for _, tc := range selfTestCases() {
		report := pipeline.Analyze(ctx, tc.text, tc.capability)
		results = append(results, scanResult{label: tc.label, report: report, pass: tc.check(report)})
	}
	return results
}

func scanCommand(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  aidetect Self-Test")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Built-in Cascade ──────────────────────────────────")
	results := runSelfTest(cmd.Context(), e.log)
	passed := printScanResults(out, results)
	fmt.Fprintf(out, "\n  Cascade: %d/%d passed\n\n", passed, len(results))

	if e.client != nil || e.cfg.Capability.Provider != "" {
		fmt.Fprintln(out, "─── Configured Cascade ────────────────────────────────")
		capability, err := e.capability("")
		if err != nil {
			fmt.Fprintf(out, "  ❌ Provider: %v\n", err)
		}
		report := e.pipeline.Analyze(cmd.Context(), scanStockText, capability)
		fmt.Fprintf(out, "  Answered by %s: %.2f (%s)\n", report.Tier, report.Result.Probability, report.Result.Explanation)
		for _, s := range report.Skipped {
			fmt.Fprintf(out, "  ⚠  %s skipped: %s", s.Tier, s.Reason)
			if s.Error != "" {
				fmt.Fprintf(out, " (%s)", s.Error)
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	if failed := len(results) - passed; failed == 0 {
		fmt.Fprintf(out, "  ✅ All %d checks passed\n", len(results))
	} else {
		fmt.Fprintf(out, "  ⚠  %d/%d checks passed, %d failed\n", passed, len(results), failed)
	}
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	return selfTestError(results)
}

// selfTestError makes a failed check show up in the exit status.
func selfTestError(results []scanResult) error {
	var failed []string
	for _, r := range results {
		if !r.pass {
			failed = append(failed, r.label)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("self-test failed: %d of %d checks failed (%s)", len(failed), len(results), strings.Join(failed, ", "))
}

func printScanResults(w io.Writer, results []scanResult) int {
	passed := 0
	for _, r := range results {
		icon := "\xe2\x9c\x85" // ✅
		if r.pass {
			passed++
		} else {
			icon = "\xe2\x9d\x8c" // ❌
		}
		fmt.Fprintf(w, "  %s  %-18s  %s → %.2f\n", icon, r.label, r.report.Tier, r.report.Result.Probability)
	}
	return passed
}
