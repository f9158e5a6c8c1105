// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 The Aide Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command aide is the CLI for the aide assistant server.
//
// Usage:
//
//	aide serve --config config.yaml
//	aide serve --provider anthropic --model claude-sonnet-4-20250514
//	aide validate config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	aide "github.com/aidekit/aide"
	"github.com/aidekit/aide/pkg/auth"
	"github.com/aidekit/aide/pkg/calendar"
	"github.com/aidekit/aide/pkg/chat"
	"github.com/aidekit/aide/pkg/config"
	"github.com/aidekit/aide/pkg/crawler"
	"github.com/aidekit/aide/pkg/embedders"
	"github.com/aidekit/aide/pkg/knowledge"
	"github.com/aidekit/aide/pkg/llms"
	"github.com/aidekit/aide/pkg/observability"
	"github.com/aidekit/aide/pkg/rooms"
	"github.com/aidekit/aide/pkg/server"
	"github.com/aidekit/aide/pkg/traffic"
	"github.com/aidekit/aide/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the assistant server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the configuration JSON Schema."`

	Config    string `short:"c" help:"Config source: file path, or consul://, etcd://, zk:// URI."`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(aide.GetVersion())
	return nil
}

// ServeCmd starts the assistant server.
type ServeCmd struct {
	// Zero-config options
	Provider string `help:"LLM provider (anthropic, openai, gemini)."`
	Model    string `help:"Model name."`
	APIKey   string `name:"api-key" help:"API key (defaults to the provider's environment variable)."`
	BaseURL  string `name:"base-url" help:"Custom API base URL."`

	// Observability options
	Observe bool `help:"Enable Prometheus metrics at /metrics."`

	// Server options
	Port  int  `help:"Port to listen on (default 8080)."`
	Watch bool `help:"Watch the config source for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	if cli.Config != "" && c.zeroConfigFlagsSet() {
		return fmt.Errorf("--config cannot be combined with zero-config flags (--provider, --model, --api-key, --base-url, --observe)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := c.loadConfig(ctx, cli.Config)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	// Override port if explicitly specified
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	// Config file logging settings fill whatever the CLI flags and
	// environment left unset
	cleanup, err := applyConfigLogging(cli, &cfg.Logging)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Start config watching if enabled
	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	// Shared database pool so SQLite-backed services reuse one handle
	// instead of fighting over file locks.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	var obs *observability.Manager
	if cfg.Observability != nil {
		obs = observability.NewManager(cfg.Observability)
		if err := obs.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			if err := obs.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Observability shutdown failed", "error", err)
			}
		}()
	}

	llmCfg, ok := cfg.GetLLM(cfg.Chat.LLM)
	if !ok {
		return fmt.Errorf("llm %q not found in configuration", cfg.Chat.LLM)
	}
	llm, err := llms.New(ctx, llmCfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}
	defer llm.Close()

	roomsSvc, err := rooms.New(cfg, dbPool)
	if err != nil {
		return fmt.Errorf("failed to create rooms service: %w", err)
	}
	defer roomsSvc.Close()

	var shaperOpts []traffic.Option
	if obs != nil {
		shaperOpts = append(shaperOpts, traffic.WithRecorder(obs.Recorder()))
	}
	shaper, err := traffic.NewFromConfig(cfg, dbPool, shaperOpts...)
	if err != nil {
		return fmt.Errorf("failed to create traffic shaper: %w", err)
	}
	defer shaper.Close()

	svcs := server.Services{
		Rooms:  roomsSvc,
		Shaper: shaper,
	}

	if cfg.Embedder != nil && cfg.Vector != nil {
		embedder, err := embedders.New(cfg.Embedder)
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		defer embedder.Close()

		store, err := vector.New(cfg.Vector)
		if err != nil {
			return fmt.Errorf("failed to create vector store: %w", err)
		}
		defer store.Close()

		var kOpts []knowledge.Option
		if obs != nil {
			kOpts = append(kOpts, knowledge.WithRecorder(obs.Recorder()), knowledge.WithTracer(obs.Tracer()))
		}
		svcs.Searcher = knowledge.NewSearcher(embedder, store, shaper.Cache(), &cfg.Knowledge, kOpts...)
		svcs.Seeder = knowledge.NewSeeder(embedder, store, &cfg.Knowledge, kOpts...)
	}

	chatOpts := []chat.Option{chat.WithProviderLabel(string(llmCfg.Provider))}
	if svcs.Searcher != nil {
		chatOpts = append(chatOpts, chat.WithSearcher(svcs.Searcher))
	}
	if obs != nil {
		chatOpts = append(chatOpts, chat.WithRecorder(obs.Recorder()), chat.WithTracer(obs.Tracer()))
	}
	svcs.Chat = chat.New(llm, roomsSvc, shaper, &cfg.Chat, chatOpts...)

	if config.BoolValue(cfg.Calendar.Enabled, false) {
		calSvc, err := calendar.New(cfg, dbPool)
		if err != nil {
			return fmt.Errorf("failed to create calendar service: %w", err)
		}
		defer calSvc.Close()
		svcs.Calendar = calSvc
	}

	var crawlOpts []crawler.Option
	if obs != nil {
		crawlOpts = append(crawlOpts, crawler.WithRecorder(obs.Recorder()))
	}
	svcs.Crawler = crawler.New(&cfg.Crawler, crawlOpts...)

	var srvOpts []server.Option
	if obs != nil {
		srvOpts = append(srvOpts, server.WithObservability(obs))
	}
	validator, err := auth.NewValidatorFromConfig(cfg.Server.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth validator: %w", err)
	}
	if validator != nil {
		if closer, ok := validator.(interface{ Close() }); ok {
			defer closer.Close()
		}
		srvOpts = append(srvOpts, server.WithAuthValidator(validator))
	}

	srv, err := server.New(cfg, svcs, srvOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	printStartupInfo(cfg, svcs, obs, shaper)

	// Start server (blocks until context is cancelled)
	return srv.Start(ctx)
}

// zeroConfigFlagsSet reports whether any flag belonging to zero-config
// mode was given.
func (c *ServeCmd) zeroConfigFlagsSet() bool {
	return c.Provider != "" || c.Model != "" || c.APIKey != "" || c.BaseURL != "" || c.Observe
}

// loadConfig loads configuration from the given source or builds a
// minimal in-memory config from flags.
func (c *ServeCmd) loadConfig(ctx context.Context, configSource string) (*config.Config, *config.Loader, error) {
	if configSource != "" {
		cfg, loader, err := config.LoadConfigSource(ctx, configSource)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		slog.Info("Loaded configuration", "source", configSource)
		return cfg, loader, nil
	}

	// Zero-config mode
	cfg, err := config.ProcessConfigPipeline(config.CreateZeroConfig(c))
	if err != nil {
		return nil, nil, err
	}

	llmCfg, _ := cfg.GetLLM(config.DefaultLLMName)
	slog.Info("Using zero-config mode", "provider", llmCfg.Provider, "model", llmCfg.Model)
	if c.Observe {
		slog.Info("Observability enabled", "metrics", "prometheus")
	}
	return cfg, nil, nil
}

// printStartupInfo prints the endpoint summary once the services are up.
func printStartupInfo(cfg *config.Config, svcs server.Services, obs *observability.Manager, shaper *traffic.Shaper) {
	addr := cfg.Server.Address()

	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"
	fmt.Printf("\n%s🚀 Aide server ready!%s\n", greenColor, resetColor)
	fmt.Printf("   Chat:        http://%s/v1/chat/{room}\n", addr)
	fmt.Printf("   Rooms:       http://%s/v1/rooms\n", addr)
	if svcs.Searcher != nil {
		fmt.Printf("   Search:      http://%s/v1/search\n", addr)
	}
	if svcs.Calendar != nil {
		fmt.Printf("   Calendar:    http://%s/v1/calendar\n", addr)
	}
	fmt.Printf("   Health:      http://%s/health\n", addr)
	fmt.Printf("   Schema:      http://%s/api/schema\n", addr)
	if obs != nil && cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:     http://%s%s\n", addr, obs.MetricsPath())
	}
	if cfg.Observability != nil && cfg.Observability.Tracing.Enabled {
		fmt.Printf("   Tracing:     %s (%s)\n", cfg.Observability.Tracing.Exporter, cfg.Observability.Tracing.Endpoint)
	}

	if cfg.Rooms.Backend == config.StorageBackendSQL {
		if dbCfg, ok := cfg.GetDatabase(cfg.Rooms.Database); ok {
			fmt.Printf("   Storage:     %s (%s)\n", dbCfg.Driver, dbCfg.Database)
		}
	} else {
		fmt.Printf("   Storage:     in-memory (not persisted)\n")
	}

	fmt.Printf("   Buckets:     %s\n", strings.Join(shaper.Buckets(), ", "))

	fmt.Println("\nPress Ctrl+C to stop")
}

// printBanner prints a colored ASCII banner using aide-green (#10b981)
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	greenColor := "\033[38;2;16;185;129m"
	resetColor := "\033[0m"

	banner := `
 █████╗ ██╗██████╗ ███████╗
██╔══██╗██║██╔══██╗██╔════╝
███████║██║██║  ██║█████╗
██╔══██║██║██║  ██║██╔══╝
██║  ██║██║██████╔╝███████╗
╚═╝  ╚═╝╚═╝╚═════╝ ╚══════╝
`
	fmt.Printf("%s%s%s\n", greenColor, banner, resetColor)
}

// shouldSkipBanner checks if the invoked command is informational
// (validate, schema, version) and should produce clean output.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}

	for _, arg := range args {
		if arg == "validate" || arg == "schema" || arg == "version" {
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("aide"),
		kong.Description("Aide - self-hosted AI chat assistant with traffic shaping"),
		kong.UsageOnError(),
	)

	// Initialize logger from CLI flags and env vars before anything
	// else runs; config file settings are applied later by serve.
	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
