package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/history"
	"github.com/gzhole/aidetect/internal/redact"
)

const statusProbeTimeout = 5 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aidetect status: model runtime, provider, history, audit log",
	Long: `Check which detection tiers are usable: whether the inference server and
its models answer, which generative provider is configured, and where history
and audit files live.

  aidetect status`,
	RunE: statusCommand,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusCommand(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out, "  aidetect Status")
	fmt.Fprintln(out, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(out)

	binPath, err := os.Executable()
	if err != nil {
		binPath = "unknown"
	}
	fmt.Fprintf(out, "  Binary:    %s (%s)\n", binPath, Version)
	fmt.Fprintf(out, "  Config:    %s\n", e.cfg.ConfigFile)
	fmt.Fprintf(out, "  Cascade:   %s\n", strings.Join(e.pipeline.Tiers(), " → "))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Model Tier ────────────────────────────────────────")
	ctx, cancel := context.WithTimeout(cmd.Context(), statusProbeTimeout)
	defer cancel()
	checkModelRuntime(ctx, out, e)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Prompt Tier ───────────────────────────────────────")
	checkProvider(out, e)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── History ───────────────────────────────────────────")
	checkHistory(ctx, out, e)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "─── Audit Log ─────────────────────────────────────────")
	if e.cfg.Audit.Enabled {
		checkAuditLog(out, e.cfg.Audit.Path)
	} else {
		fmt.Fprintln(out, "  ⬚  Disabled")
	}
	fmt.Fprintln(out)

	return nil
}

func checkModelRuntime(ctx context.Context, out io.Writer, e *env) {
	if e.client == nil {
		fmt.Fprintln(out, "  ⬚  No inference endpoint configured (model.endpoint)")
		return
	}
	fmt.Fprintf(out, "  Endpoint:  %s\n", e.client.BaseURL())
	if err := e.client.Live(ctx); err != nil {
		fmt.Fprintf(out, "  ❌ Server not live: %v\n", err)
		return
	}
	fmt.Fprintln(out, "  ✅ Server live")

	name := e.model.Name()
	for _, m := range []string{e.client.TokenizerFor(name), name} {
		if err := e.client.ModelReady(ctx, m); err != nil {
			fmt.Fprintf(out, "  ❌ %s: %v\n", m, err)
		} else {
			fmt.Fprintf(out, "  ✅ %s: ready\n", m)
		}
	}
}

func checkProvider(out io.Writer, e *env) {
	c := e.cfg.Capability
	if c.Provider == "" {
		fmt.Fprintln(out, "  ⬚  No provider configured (capability.provider)")
		return
	}
	if _, err := e.capability(""); err != nil {
		fmt.Fprintf(out, "  ❌ %s: %v\n", c.Provider, err)
		return
	}
	fmt.Fprintf(out, "  ✅ Provider: %s\n", c.Provider)
	if c.Model != "" {
		fmt.Fprintf(out, "     Model:    %s\n", c.Model)
	}
	if c.BaseURL != "" {
		fmt.Fprintf(out, "     URL:      %s\n", c.BaseURL)
	}
	switch {
	case c.APIKey != "":
		fmt.Fprintf(out, "     API key:  %s\n", redact.Mask(c.APIKey))
	case c.Provider == "gemini" || c.Provider == "openai":
		fmt.Fprintln(out, "  ⚠  No API key; the prompt tier will be skipped")
	}
	fmt.Fprintf(out, "     Timeout:  %s\n", c.Timeout)
}

func checkHistory(ctx context.Context, out io.Writer, e *env) {
	if !e.cfg.History.Enabled {
		fmt.Fprintln(out, "  ⬚  Disabled")
		return
	}
	if _, err := os.Stat(e.cfg.History.Path); err != nil {
		fmt.Fprintf(out, "  ⬚  %s (not yet created, will start on first detection)\n", e.cfg.History.Path)
		return
	}

	store, err := history.Open(e.cfg.History.Path)
	if err != nil {
		fmt.Fprintf(out, "  ❌ %s: %v\n", e.cfg.History.Path, err)
		return
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats(ctx)
	if err != nil {
		fmt.Fprintf(out, "  ❌ %s: %v\n", e.cfg.History.Path, err)
		return
	}
	fmt.Fprintf(out, "  ✅ %s (%d records, mean probability %.2f)\n", e.cfg.History.Path, stats.Count, stats.MeanProbability)
	tiers := make([]string, 0, len(stats.ByTier))
	for tier := range stats.ByTier {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	for _, tier := range tiers {
		fmt.Fprintf(out, "     %-10s %d\n", tier+":", stats.ByTier[tier])
	}
}

func checkAuditLog(out io.Writer, path string) {
	if path == "" {
		fmt.Fprintln(out, "  ⬚  No audit log path configured")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		fmt.Fprintf(out, "  ⬚  %s (not yet created, will start on first event)\n", path)
		return
	}

	sizeKB := info.Size() / 1024
	if sizeKB == 0 {
		fmt.Fprintf(out, "  ✅ %s (<1 KB)\n", path)
	} else {
		fmt.Fprintf(out, "  ✅ %s (%d KB)\n", path, sizeKB)
	}
}
