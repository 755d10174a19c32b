package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/config"
	"github.com/gzhole/aidetect/internal/generator"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up aidetect for your environment",
	Long: `Write a starter configuration and show how to enable each detection tier.

  aidetect setup --install          # write ~/.aidetect/config.yaml
  aidetect setup --install --force  # overwrite an existing config
  aidetect setup                    # show setup instructions`,
	RunE: setupCommand,
}

var (
	installFlag bool
	forceFlag   bool
)

func init() {
	setupCmd.Flags().BoolVar(&installFlag, "install", false, "Write the default configuration file")
	setupCmd.Flags().BoolVar(&forceFlag, "force", false, "Overwrite an existing configuration file")
	rootCmd.AddCommand(setupCmd)
}

func setupCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if installFlag {
		dir, err := config.Dir()
		if err != nil {
			return fmt.Errorf("failed to locate config dir: %w", err)
		}
		path := configPath
		if path == "" {
			path = filepath.Join(dir, config.DefaultConfigFile)
		}
		if err := writeSampleConfig(path, dir, forceFlag); err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Wrote %s\n\n", path)
	}
	printSetupInstructions(out)
	return nil
}

// writeSampleConfig renders the default configuration to path. An existing
// file is kept unless force is set.
func writeSampleConfig(path, configDir string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check config: %w", err)
	}

	data, err := config.Sample(configDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func printSetupInstructions(w io.Writer) {
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w, "  aidetect Setup Guide")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Model Tier (Recommended) ──────────────────────────")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Serve a sequence classifier and its tokenizer from any Open")
	fmt.Fprintln(w, "  Inference Protocol server (Triton, KServe, MLServer), then:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    export AIDETECT_MODEL_ENDPOINT=http://localhost:8000")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  The tokenizer is looked up as <model>-tokenizer unless")
	fmt.Fprintln(w, "  model.tokenizer names it.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Prompt Tier ───────────────────────────────────────")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Providers: %s\n", strings.Join(generator.Names(), ", "))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "    export AIDETECT_PROVIDER=gemini GEMINI_API_KEY=...")
	fmt.Fprintln(w, "    export AIDETECT_PROVIDER=ollama      # local, no key")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Heuristic Tier ────────────────────────────────────")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Always available; answers when the tiers above cannot.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "─── Direct CLI Usage ─────────────────────────────────")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  aidetect detect essay.pdf            # score a file")
	fmt.Fprintln(w, "  aidetect detect --text \"...\"         # score a string")
	fmt.Fprintln(w, "  aidetect serve                       # HTTP API")
	fmt.Fprintln(w, "  aidetect history list                # past detections")
	fmt.Fprintln(w, "  aidetect log --summary               # audit summary")
	fmt.Fprintln(w, "  aidetect status                      # tier readiness")
	fmt.Fprintln(w, "  aidetect scan                        # self-test")
	fmt.Fprintln(w)
}
