package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/aidetect/internal/config"
	"github.com/gzhole/aidetect/internal/detector"
	"github.com/gzhole/aidetect/internal/generator"
	"github.com/gzhole/aidetect/internal/history"
	"github.com/gzhole/aidetect/internal/inference"
	"github.com/gzhole/aidetect/internal/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "aidetect",
	Short: "aidetect - estimate whether text was machine-generated",
	Long: `aidetect scores text for signs of machine generation. It tries a pretrained
classifier served over the Open Inference Protocol first, then a generative
model prompted to judge the text, and finally a built-in statistical
heuristic that always answers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: ~/.aidetect/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level: debug, info, warn, error")
}

func Execute() error {
	return rootCmd.Execute()
}

// env is the wiring shared by every command that detects or reports.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	client   *inference.Client
	model    *detector.ModelClassifier
	pipeline *detector.Pipeline
}

func loadEnv() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	log := logger.NewSlog(os.Stderr, level, cfg.Log.Format)

	e := &env{cfg: cfg, log: log}

	// A nil loader must stay an untyped nil so the model tier reports the
	// runtime as absent.
	var loader detector.Loader
	if cfg.Model.Endpoint != "" {
		e.client = inference.NewClient(cfg.Model.Endpoint,
			inference.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}),
			inference.WithTokenizerModel(cfg.Model.Tokenizer),
		)
		loader = e.client
	}

	e.model = detector.NewModelClassifier(loader,
		detector.WithModelName(cfg.Model.Name),
		detector.WithMaxLength(cfg.Model.MaxLength),
		detector.WithLoadTimeout(cfg.Model.Timeout),
		detector.WithModelLogger(log),
	)
	e.pipeline = detector.NewDefaultPipeline(e.model, cfg.Capability.Timeout,
		detector.WithLogger(log),
		detector.WithSanitizer(cfg.Sanitize),
	)
	return e, nil
}

// capability resolves a provider name to a prompt-tier capability. An empty
// name selects the configured provider; no provider at all yields nil.
func (e *env) capability(provider string) (detector.Capability, error) {
	settings := e.cfg.CapabilitySettings()
	switch {
	case provider == "":
		provider = e.cfg.Capability.Provider
	case provider != e.cfg.Capability.Provider:
		// Configured credentials belong to another provider; keep only the timeout.
		settings = map[string]any{}
		if e.cfg.Capability.Timeout > 0 {
			settings["timeout"] = e.cfg.Capability.Timeout
		}
	}
	if provider == "" {
		return nil, nil
	}

	g, err := generator.New(provider, settings)
	if err != nil {
		return nil, err
	}
	return generator.Capability(g), nil
}

// openHistory returns nil when history is disabled.
func (e *env) openHistory() (*history.Store, error) {
	if !e.cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.Open(e.cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// openAudit returns nil when the audit log is disabled.
func (e *env) openAudit() (*logger.AuditLogger, error) {
	if !e.cfg.Audit.Enabled {
		return nil, nil
	}
	audit, err := logger.New(e.cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return audit, nil
}
