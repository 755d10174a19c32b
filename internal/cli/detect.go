package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gzhole/aidetect/internal/approval"
	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/history"
	"github.com/gzhole/aidetect/internal/ingest"
	"github.com/gzhole/aidetect/internal/logger"
)

var (
	detectText        string
	detectProvider    string
	detectJSON        bool
	detectNoHistory   bool
	detectConcurrency int
)

var detectCmd = &cobra.Command{
	Use:   "detect [file...]",
	Short: "Estimate whether text was machine-generated",
	Long: `Score one or more inputs. Inputs are files (.txt, .md, .pdf, .docx), the
--text flag, or text piped on stdin ("-" reads stdin explicitly).

Examples:
  aidetect detect essay.pdf notes.md
  aidetect detect --text "Some paragraph to check."
  pbpaste | aidetect detect --provider gemini --json`,
	RunE: detectCommand,
}

func init() {
	detectCmd.Flags().StringVar(&detectText, "text", "", "Text to analyze")
	detectCmd.Flags().StringVar(&detectProvider, "provider", "", "Generative provider for the prompt tier (overrides config)")
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "Print reports as JSON")
	detectCmd.Flags().BoolVar(&detectNoHistory, "no-history", false, "Do not record results in the history database")
	detectCmd.Flags().IntVar(&detectConcurrency, "concurrency", 4, "Number of inputs analyzed at once")
	rootCmd.AddCommand(detectCmd)
}

type detectInput struct {
	Source string
	Text   string
	Err    error
}

type detectOutcome struct {
	ID     string          `json:"id,omitempty"`
	Source string          `json:"source"`
	Report detector.Report `json:"report"`
	Error  string          `json:"error,omitempty"`
}

// detectSinks are the optional places a finished detection is recorded.
type detectSinks struct {
	history *history.Store
	audit   *logger.AuditLogger
	log     *slog.Logger
}

func detectCommand(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	inputs, err := collectInputs(args, detectText, os.Stdin, approval.IsInteractive())
	if err != nil {
		return err
	}

	capability, err := e.capability(detectProvider)
	if err != nil {
		return err
	}

	sinks := detectSinks{log: e.log}
	if !detectNoHistory {
		if sinks.history, err = e.openHistory(); err != nil {
			return err
		}
		if sinks.history != nil {
			defer func() { _ = sinks.history.Close() }()
		}
	}
	if sinks.audit, err = e.openAudit(); err != nil {
		return err
	}
	if sinks.audit != nil {
		defer func() { _ = sinks.audit.Close() }()
	}

	outcomes := runDetections(cmd.Context(), e.pipeline, capability, inputs, sinks, detectConcurrency)

	out := cmd.OutOrStdout()
	if detectJSON {
		if err := writeOutcomesJSON(out, outcomes); err != nil {
			return err
		}
	} else {
		printOutcomes(out, outcomes)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs could not be analyzed", failed, len(outcomes))
	}
	return nil
}

// collectInputs gathers --text, file arguments and stdin. Stdin is read when
// it is named with "-" or when nothing else was given; an interactive
// terminal is refused rather than waited on.
func collectInputs(args []string, text string, stdin io.Reader, interactive bool) ([]detectInput, error) {
	var inputs []detectInput
	if text != "" {
		inputs = append(inputs, detectInput{Source: "text", Text: text})
	}

	readStdin := len(args) == 0 && text == ""
	for _, arg := range args {
		if arg == "-" {
			readStdin = true
			continue
		}
		doc, err := ingest.ParseFile(arg)
		if err != nil {
			inputs = append(inputs, detectInput{Source: arg, Err: err})
			continue
		}
		inputs = append(inputs, detectInput{Source: doc.Source, Text: doc.Text})
	}

	if readStdin {
		if interactive {
			return nil, errors.New("no input: pass files, --text, or pipe text on stdin")
		}
		doc, err := ingest.Parse("stdin", stdin)
		switch {
		case errors.Is(err, ingest.ErrNoText):
			// Empty input still gets a report.
			inputs = append(inputs, detectInput{Source: "stdin"})
		case err != nil:
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		default:
			inputs = append(inputs, detectInput{Source: "stdin", Text: doc.Text})
		}
	}
	return inputs, nil
}

// runDetections analyzes inputs concurrently and returns outcomes in input
// order. Recording failures are logged; they never fail a detection.
func runDetections(ctx context.Context, pipeline *detector.Pipeline, capability detector.Capability, inputs []detectInput, sinks detectSinks, concurrency int) []detectOutcome {
	if sinks.log == nil {
		sinks.log = slog.Default()
	}
	outcomes := make([]detectOutcome, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, in := range inputs {
		g.Go(func() error {
			outcomes[i] = detectOne(ctx, pipeline, capability, in, sinks)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func detectOne(ctx context.Context, pipeline *detector.Pipeline, capability detector.Capability, in detectInput, sinks detectSinks) detectOutcome {
	if in.Err != nil {
		return detectOutcome{Source: in.Source, Error: in.Err.Error()}
	}

	report := pipeline.Analyze(ctx, in.Text, capability)
	outcome := detectOutcome{Source: in.Source, Report: report}

	rec := history.NewRecord(in.Source, in.Text, report)
	if sinks.history != nil {
		if err := sinks.history.Save(ctx, rec); err != nil {
			sinks.log.Warn("failed to save detection", "source", in.Source, "error", err)
		} else {
			outcome.ID = rec.ID
		}
	}
	if sinks.audit != nil {
		if err := sinks.audit.Log(logger.NewDetectionEvent(rec.ID, in.Source, in.Text, report)); err != nil {
			sinks.log.Warn("failed to write audit event", "source", in.Source, "error", err)
		}
	}
	return outcome
}

func writeOutcomesJSON(w io.Writer, outcomes []detectOutcome) error {
	if len(outcomes) == 1 {
		return writeJSON(w, outcomes[0])
	}
	return writeJSON(w, outcomes)
}

func printOutcomes(w io.Writer, outcomes []detectOutcome) {
	for i, o := range outcomes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s %s\n", probabilityIcon(o), o.Source)
		if o.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", o.Error)
			continue
		}
		r := o.Report
		fmt.Fprintf(w, "     Probability: %.2f\n", r.Result.Probability)
		fmt.Fprintf(w, "     Explanation: %s\n", r.Result.Explanation)
		fmt.Fprintf(w, "     Tier:        %s\n", r.Tier)
		if len(r.Skipped) > 0 {
			skipped := make([]string, len(r.Skipped))
			for j, s := range r.Skipped {
				skipped[j] = fmt.Sprintf("%s (%s)", s.Tier, s.Reason)
			}
			fmt.Fprintf(w, "     Skipped:     %s\n", strings.Join(skipped, ", "))
		}
		if len(r.Findings) > 0 {
			fmt.Fprintf(w, "     Sanitized:   %d hidden character finding(s)\n", len(r.Findings))
		}
		if o.ID != "" {
			fmt.Fprintf(w, "     Record:      %s\n", o.ID)
		}
	}
}

func probabilityIcon(o detectOutcome) string {
	switch {
	case o.Error != "":
		return "\xe2\x9d\x8c" // cross mark
	case o.Report.Result.Probability > 0.6:
		return "\xf0\x9f\xa4\x96" // robot
	case o.Report.Result.Probability > 0.4:
		return "\xe2\x9d\x93" // question mark
	default:
		return "\xe2\x9c\x8d" // writing hand
	}
}
