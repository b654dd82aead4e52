package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"formcoach/cmd/formcoach/chat"
	"formcoach/internal/config"
	"formcoach/internal/dialogue"
	"formcoach/internal/embedding"
	"formcoach/internal/logging"
	"formcoach/internal/orchestrator"
	"formcoach/internal/perception"
	"formcoach/internal/research"
	"formcoach/internal/schema"
	"formcoach/internal/server"
	"formcoach/internal/stages"
	"formcoach/internal/store"
)

const appVersion = "0.3.0"

var (
	// Global flags
	configPath string
	verbose    bool
	dbPath     string
	addr       string
	timeout    time.Duration

	// Loaded configuration and process logger
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "formcoach",
	Short: "formcoach - conversational coach for lifting pain and form problems",
	Long: `formcoach talks through a training complaint the way a coach would:
it asks what hurts and when, analyzes the movement, names the likely
injury pattern, researches it, and hands back a prescription report.

Run without arguments to start the interactive chat interface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		launchingTUI := cmd == rootCmd || cmd == chatCmd

		// The TUI owns the terminal, so it runs without the process logger
		if !launchingTUI {
			zc := zap.NewProductionConfig()
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.Store.Path = dbPath
		}
		if addr != "" {
			cfg.Server.Addr = addr
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logging.SetConsole(cfg.Logging.Console && !launchingTUI)
		if err := logging.Enable(cfg.Logging.Dir, cfg.Logging.Level); err != nil {
			fmt.Fprintf(os.Stderr, "warning: category logging disabled: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: launch interactive chat
		return runChat(cmd, args)
	},
}

// serveCmd runs the HTTP coaching server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP coaching server",
	Long: `Serves the coaching dialogue over HTTP.

Endpoints:
  POST /chat           one conversation turn ({message, conversation_id?})
  POST /chat/reset     discard a conversation
  GET  /health         liveness and active session count
  POST /admin/cleanup  reap sessions idle past the TTL`,
	RunE: runServe,
}

// askCmd produces a report from a single message
var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "One-shot analysis: skip the back-and-forth and print the report",
	Long: `Runs the full pipeline on a single complaint without interactive
questioning. Optional questions are suppressed; required details the
message does not contain are simply left unknown.

Example:
  formcoach ask "sharp pain in my right knee at the bottom of squats"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

// chatCmd starts the interactive TUI
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat interface",
	RunE:  runChat,
}

// kbCmd inspects the knowledge base
var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect the knowledge base",
}

var kbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base and session store counts",
	RunE:  runKBStats,
}

var (
	kbSearchCategory string
	kbSearchLimit    int
)

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search knowledge atoms by keyword",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKBSearch,
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("formcoach %s (%s/%s)\n", appVersion, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "formcoach.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")

	kbSearchCmd.Flags().StringVar(&kbSearchCategory, "category", "", "Restrict to one category (form_guides, injury_patterns, correctives)")
	kbSearchCmd.Flags().IntVar(&kbSearchLimit, "limit", 5, "Maximum atoms per category")
	kbCmd.AddCommand(kbStatsCmd)
	kbCmd.AddCommand(kbSearchCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(kbCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runServe starts the HTTP server and blocks until SIGINT/SIGTERM.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	deps, cleanup, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	mgr := server.NewManager(cfg, schema.Default(), deps, buildQuestioner(deps))
	srv := server.New(cfg, mgr)

	logger.Info("formcoach serving",
		zap.String("addr", cfg.Server.Addr),
		zap.String("llm", cfg.LLM.Provider),
		zap.Bool("search", deps.Searcher != nil))
	return srv.Run(ctx)
}

// runAsk drives a whole session from one message. Questions the pipeline
// would normally ask are surfaced as skipped lines, answered as unknown.
func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	deps, cleanup, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	message := strings.Join(args, " ")
	logger.Info("Processing complaint", zap.String("input", message))

	view := schema.Default().SessionView(schema.ShufflePolicy{})
	sess := orchestrator.NewSession(uuid.NewString(), orchestratorConfig(cfg), view, deps, nil)
	sess.ForceProceed()

	outcome := sess.HandleMessage(ctx, message)
	for outcome.Type == orchestrator.OutcomeQuestion {
		fmt.Fprintf(os.Stderr, "(skipping question: %s)\n", outcome.Question)
		outcome = sess.HandleMessage(ctx, "unknown")
	}
	if outcome.Type == orchestrator.OutcomeError {
		return outcome.Err
	}

	fmt.Println(outcome.Report.Markdown())
	return nil
}

// runChat launches the interactive TUI.
func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	return chat.Run(cfg, deps, buildQuestioner(deps))
}

func runKBStats(cmd *cobra.Command, args []string) error {
	st, err := store.NewLocalStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("Store: %s\n", cfg.Store.Path)
	for _, k := range keys {
		fmt.Printf("  %-24s %d\n", k, stats[k])
	}
	return nil
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := store.NewLocalStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	query := strings.Join(args, " ")
	categories := []string{store.CategoryFormGuides, store.CategoryInjuryPatterns, store.CategoryCorrectives}
	if kbSearchCategory != "" {
		categories = []string{kbSearchCategory}
	}

	found := 0
	for _, category := range categories {
		atoms, err := st.SearchAtoms(ctx, category, query, kbSearchLimit)
		if err != nil {
			return err
		}
		for _, atom := range atoms {
			found++
			fmt.Printf("[%s] %s (confidence %.2f)\n", atom.Category, atom.Concept, atom.Confidence)
			fmt.Printf("    %s\n", firstLine(atom.Content))
			if atom.Source != "" {
				fmt.Printf("    source: %s\n", atom.Source)
			}
		}
	}
	if found == 0 {
		fmt.Printf("No atoms matched %q.\n", query)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 160 {
		s = s[:160] + "..."
	}
	return s
}

// orchestratorConfig maps the file configuration onto the run loop knobs.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		MaxIterations:         cfg.Orchestrator.MaxIterations,
		MaxStagesPerRequest:   cfg.Orchestrator.MaxStagesPerRequest,
		ProgressCheckInterval: cfg.Orchestrator.ProgressCheckInterval,
		StageTimeout:          cfg.GetStageTimeout(),
		MinOptionalFields:     cfg.Dialogue.MinOptionalFields,
	}
}

// buildQuestioner returns an LLM-backed question generator, or nil so the
// dialogue falls back to its static question table.
func buildQuestioner(deps *stages.Deps) dialogue.QuestionGenerator {
	if deps.LLM == nil {
		return nil
	}
	return dialogue.NewLLMQuestioner(deps.LLM)
}

// buildDeps assembles the stage dependencies from configuration. Every
// collaborator is optional except the store; stages degrade to knowledge
// base answers when a collaborator is absent.
func buildDeps(ctx context.Context) (*stages.Deps, func(), error) {
	deps := &stages.Deps{}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.LLM.Provider != "none" {
		client, err := perception.NewClientFromConfig(&perception.ProviderConfig{
			Provider:   perception.Provider(cfg.LLM.Provider),
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			BaseURL:    cfg.LLM.BaseURL,
			Timeout:    cfg.GetLLMTimeout(),
			MaxRetries: cfg.LLM.Retries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("llm client: %w", err)
		}
		deps.LLM = client
	} else {
		logging.Boot("No LLM configured; stages fall back to knowledge base summaries")
	}

	if cfg.Search.APIKey != "" {
		deps.Searcher = research.NewBraveClientWithConfig(research.BraveConfig{
			APIKey:     cfg.Search.APIKey,
			Endpoint:   cfg.Search.Endpoint,
			Timeout:    cfg.GetSearchTimeout(),
			MaxResults: cfg.Search.MaxResults,
		})
		deps.Fetcher = research.NewFetcher(cfg.GetSearchTimeout(), 0)
	} else {
		logging.Boot("No search key configured; research stage uses knowledge base only")
	}

	st, err := store.NewLocalStore(cfg.Store.Path)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	cleanups = append(cleanups, func() { _ = st.Close() })
	deps.Store = st

	if cfg.Embedding.Provider != "none" {
		engine, err := buildEmbeddingEngine()
		if err != nil {
			logging.Boot("Embedding engine unavailable: %v", err)
		} else {
			st.SetEmbeddingEngine(engine)
			if closer, ok := engine.(interface{ Close() error }); ok {
				cleanups = append(cleanups, func() { _ = closer.Close() })
			}
		}
	}

	if cfg.Store.CorpusDir != "" {
		n, err := st.LoadCorpusDir(ctx, cfg.Store.CorpusDir)
		if err != nil {
			logging.Boot("Corpus load failed: %v", err)
		} else {
			logging.Boot("Corpus loaded: %d atoms from %s", n, cfg.Store.CorpusDir)
		}

		if cfg.Store.Watch {
			watcher, err := store.NewCorpusWatcher(cfg.Store.CorpusDir, st)
			if err != nil {
				logging.Boot("Corpus watcher unavailable: %v", err)
			} else if err := watcher.Start(ctx); err != nil {
				logging.Boot("Corpus watcher failed to start: %v", err)
			} else {
				cleanups = append(cleanups, watcher.Stop)
			}
		}
	}

	return deps, cleanup, nil
}

func buildEmbeddingEngine() (embedding.EmbeddingEngine, error) {
	ecfg := embedding.DefaultConfig()
	ecfg.Provider = cfg.Embedding.Provider
	switch cfg.Embedding.Provider {
	case "nim":
		ecfg.NIMAPIKey = cfg.Embedding.APIKey
		if cfg.Embedding.Model != "" {
			ecfg.NIMModel = cfg.Embedding.Model
		}
	case "genai":
		ecfg.GenAIAPIKey = cfg.Embedding.APIKey
		if cfg.Embedding.Model != "" {
			ecfg.GenAIModel = cfg.Embedding.Model
		}
	}
	return embedding.NewEngine(ecfg)
}
