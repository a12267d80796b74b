// Reverie is a terminal companion that thinks out loud.
//
// Each turn it contemplates a topic, drawing on recent memories and a
// simple emotional state, and replies with things to say and questions
// to ask. The operator's answers steer the next turn. Generation runs on
// a local Ollama server or any OpenAI-compatible completions endpoint.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); it is optional.
//
// Usage:
//
//	reverie [chat]           Start a conversation (default)
//	reverie models           List models the backend offers
//	reverie init [dir]       Write an annotated config.yaml
//	reverie schema           Print the config file's JSON Schema
//	reverie version          Print version and build information
//	reverie -o json version  Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/reverie/internal/agent"
	"github.com/nugget/reverie/internal/buildinfo"
	"github.com/nugget/reverie/internal/config"
	"github.com/nugget/reverie/internal/connwatch"
	"github.com/nugget/reverie/internal/conversation"
	"github.com/nugget/reverie/internal/events"
	"github.com/nugget/reverie/internal/httpkit"
	"github.com/nugget/reverie/internal/llm"
	"github.com/nugget/reverie/internal/usage"
)

// retryDelay spaces out retries of refused backend connections.
const retryDelay = 500 * time.Millisecond

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. The conversation is written to stdout;
// logs go to stderr so they never interleave with it. args is
// os.Args[1:], parsed by hand because the flag package's global state
// gets in the way of calling run from parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "", "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "models":
		return runModels(ctx, stdout, stderr, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "schema":
		return runSchema(stdout)
	case "version":
		return runVersion(stdout, outputFmt)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func runSchema(w io.Writer) error {
	data, err := config.SchemaJSON()
	if err != nil {
		return fmt.Errorf("render schema: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Reverie - a self-thinking conversational agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: reverie [flags] [command] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Start a conversation (default)")
	fmt.Fprintln(w, "  models       List models available on the backend")
	fmt.Fprintln(w, "  init [dir]   Write an annotated config.yaml (default: .)")
	fmt.Fprintln(w, "  schema       Print the JSON Schema of config.yaml")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/reverie/config.yaml, /etc/reverie/config.yaml")
	return nil
}

// runChat wires the backend, conversation node and agent together and
// hands the terminal to [chat].
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := loggerFor(cfg, stderr)
	if err != nil {
		return err
	}
	logger = logger.With("session_id", uuid.NewString())
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}
	logger.Info("starting", "version", buildinfo.Version, "provider", cfg.Backend.Provider, "model", cfg.Backend.Model)

	bus := events.New()
	sub := bus.Subscribe(64)
	logged := make(chan struct{})
	go func() {
		defer close(logged)
		logEvents(logger, sub)
	}()
	defer func() {
		bus.Unsubscribe(sub)
		<-logged
	}()

	client := createLLMClient(cfg, logger)

	watcher := connwatch.Watch(ctx, connwatch.Config{
		Name:   cfg.Backend.Provider,
		Target: client,
		Events: bus,
		Logger: logger,
	})
	defer watcher.Stop()

	node := conversation.New(client, conversation.Config{
		Model:      cfg.Backend.Model,
		Name:       cfg.Node.Name,
		Definition: cfg.Node.Persona,
		MaxHistory: cfg.Node.MaxHistory,
		MaxTokens:  cfg.Node.MaxTokens,
		Timeout:    cfg.Backend.Timeout(),
	}, logger)

	ledger := usage.New()
	defer logUsage(logger, ledger)

	opts := []agent.Option{
		agent.WithTopics(cfg.Agent.Topics),
		agent.WithMemoryLimit(cfg.Agent.MemoryLimit),
		agent.WithRecentMemories(cfg.Agent.RecentMemories),
		agent.WithEvents(bus),
		agent.WithUsage(ledger),
		agent.WithLogger(logger),
	}
	if cfg.Agent.Seed != 0 {
		opts = append(opts, agent.WithRand(agent.NewSeededRand(cfg.Agent.Seed)))
	}
	mind := agent.New(node, opts...)

	return chat(ctx, mind, cfg.Node.Name, stdin, stdout)
}

// thinker is the slice of [agent.Agent] the terminal loop needs.
type thinker interface {
	Think(ctx context.Context, input string) (string, error)
}

const goodbye = "\nExiting the program. Goodbye!"

// chat runs the terminal conversation: one turn with empty input, then
// one turn per line read. It returns nil on "quit", EOF or cancellation.
func chat(ctx context.Context, mind thinker, name string, stdin io.Reader, stdout io.Writer) error {
	fmt.Fprintf(stdout, "Welcome to the %s System!\n", name)
	fmt.Fprintln(stdout, "The AI will share its thoughts and ask questions. You can respond to guide the conversation.")
	fmt.Fprintln(stdout, "Type 'quit' at any time to exit.")
	fmt.Fprintln(stdout)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	input := ""
	for {
		response, err := mind.Think(ctx, input)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(stdout, goodbye)
				return nil
			}
			return err
		}
		fmt.Fprintln(stdout, response)
		fmt.Fprintln(stdout)

		if ctx.Err() != nil {
			fmt.Fprintln(stdout, goodbye)
			return nil
		}

		fmt.Fprint(stdout, "Your response: ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(stdout, goodbye)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(stdout, goodbye)
				return nil
			}
			input = strings.TrimSpace(line)
		}
		if strings.EqualFold(input, "quit") {
			return nil
		}
	}
}

// runModels prints the model names the configured backend reports.
func runModels(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := loggerFor(cfg, stderr)
	if err != nil {
		return err
	}

	client := createLLMClient(cfg, logger)
	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}
	for _, m := range models {
		marker := " "
		if m == cfg.Backend.Model {
			marker = "*"
		}
		fmt.Fprintf(stdout, "%s %s\n", marker, m)
	}
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func loggerFor(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return newLogger(w, level, cfg.LogFormat), nil
}

// loadConfig loads .env, then locates and parses the YAML config. An
// explicit path must exist; when nothing is found by search the
// defaults are used and the returned path is empty. The result is
// validated.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	var cfg *config.Config
	switch {
	case errors.Is(err, config.ErrNotFound):
		cfg, cfgPath = config.Default(), ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

// createLLMClient builds the provider named by the config and registers
// the configured model with it. The primary provider is also the
// fallback for any other model name.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	var primary llm.Client
	switch cfg.Backend.Provider {
	case config.ProviderOpenAI:
		primary = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:    cfg.Backend.URL,
			APIKey:     cfg.Backend.APIKey,
			MaxRetries: cfg.Backend.Retries,
			HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger)),
		}, logger)
	default:
		primary = llm.NewOllamaClient(cfg.Backend.URL, logger,
			httpkit.WithRetry(cfg.Backend.Retries, retryDelay),
		)
	}

	multi := llm.NewMultiClient(primary)
	multi.AddProvider(cfg.Backend.Provider, primary)
	multi.AddModel(cfg.Backend.Model, cfg.Backend.Provider)

	logger.Debug("LLM client initialized", "provider", cfg.Backend.Provider, "model", cfg.Backend.Model, "url", cfg.Backend.URL)
	return multi
}

// logUsage logs the session's token totals per model.
func logUsage(logger *slog.Logger, ledger *usage.Ledger) {
	by := ledger.SummaryByModel()
	for _, model := range ledger.Models() {
		s := by[model]
		logger.Info("session usage",
			"model", model,
			"calls", s.Calls,
			"input_tokens", s.InputTokens,
			"output_tokens", s.OutputTokens,
			"elapsed", s.Elapsed.Round(time.Millisecond),
		)
	}
}

// logEvents writes bus events to the debug log until ch is closed.
func logEvents(logger *slog.Logger, ch <-chan events.Event) {
	for evt := range ch {
		logger.Debug("event", "source", evt.Source, "kind", evt.Kind, "data", evt.Data)
	}
}
