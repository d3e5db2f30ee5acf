// Package cli implements the dfir command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hive-corporation/dfir-engine/internal/adapter/handler"
	"github.com/hive-corporation/dfir-engine/internal/adapter/llm"
	"github.com/hive-corporation/dfir-engine/internal/config"
	"github.com/hive-corporation/dfir-engine/internal/core/pipeline"
	"github.com/hive-corporation/dfir-engine/internal/logging"
	"github.com/hive-corporation/dfir-engine/internal/ui/colorize"
)

// Options wires the root command. Collaborators overrides the providers built from
// Config; DialOptions are appended when connecting to a --server.
type Options struct {
	Config        config.Config
	Logger        *log.Logger
	Collaborators *llm.Registry
	DialOptions   []grpc.DialOption
}

type app struct {
	opts Options
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	a := &app{opts: opts}

	root := &cobra.Command{
		Use:   "dfir",
		Short: "Deobfuscate and triage malicious JavaScript",
		Long: `dfir runs obfuscated JavaScript through a fixed deobfuscation pipeline.
Deterministic steps run locally; structural steps and the forensic report are
delegated to a language model provider. Every run ends with a static IOC scan.`,
		Example: `
# Full pipeline with the default provider
dfir run payload.js

# Local transforms only
dfir run --offline payload.js

# Delegate to a running dfir-grpc server
dfir run --server localhost:50051 payload.js
  `,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("server", "", "Address of a dfir-grpc server to delegate to")

	root.AddCommand(
		a.runCmd(),
		a.scanCmd(),
		a.transformCmd(),
		a.poolCmd(),
		a.providersCmd(),
		schemaCmd(),
	)
	return root
}

func (a *app) registry() *llm.Registry {
	if a.opts.Collaborators != nil {
		return a.opts.Collaborators
	}
	cfg := a.opts.Config
	clientCfg := llm.DefaultResilientClientConfig()
	clientCfg.Logger = a.opts.Logger
	return llm.NewDefaultRegistry(llm.ProviderOptions{
		OpenAIKey:   cfg.OpenAIKey,
		OpenAIURL:   cfg.OpenAIURL,
		OpenAIModel: cfg.OpenAIModel,
		GeminiKey:   cfg.GeminiKey,
		GeminiURL:   cfg.GeminiURL,
		Timeout:     cfg.LLMTimeout,
		Client:      clientCfg,
	})
}

func (a *app) engine() *pipeline.Orchestrator {
	return pipeline.New(pipeline.Config{
		Collaborators:   a.registry(),
		DefaultProvider: a.opts.Config.Provider,
		ReportFilter:    llm.ReportFilter(llm.DefaultGuardrailConfig(), a.opts.Logger),
		Logger:          a.opts.Logger,
	})
}

// remote returns a client for --server, or nil when the flag is empty
func (a *app) remote(cmd *cobra.Command) (*handler.EngineClient, func(), error) {
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		return nil, func() {}, nil
	}

	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, a.opts.DialOptions...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	a.opts.Logger.Debug("Delegating to remote engine", "server", addr)
	return handler.NewEngineClient(conn), func() { conn.Close() }, nil
}

// readInput reads a script from path, or from stdin when path is "-"
func readInput(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("error reading %s: %w", path, err)
	}
	return string(data), nil
}

// colorOutput reports whether w is a terminal that should get highlighted output
func colorOutput(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd()) && colorize.Enabled()
}

// Execute runs the dfir command line and returns the process exit code. fang is
// used on terminals; piped output gets plain cobra.
func Execute() int {
	cfg := config.Load()
	logger := logging.New()
	defer logger.Close()

	root := NewRootCommand(Options{Config: cfg, Logger: logger.Logger})

	if !term.IsTerminal(os.Stdout.Fd()) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := root.ExecuteContext(ctx); err != nil {
			return 1
		}
		return 0
	}

	if err := fang.Execute(context.Background(), root, fang.WithNotifySignal(os.Interrupt)); err != nil {
		return 1
	}
	return 0
}
