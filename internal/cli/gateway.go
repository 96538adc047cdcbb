package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/oracle/internal/agent"
	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/gateway"
	"github.com/soyeahso/oracle/internal/hooks"
	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/logging"
	"github.com/soyeahso/oracle/internal/relay"
	"github.com/soyeahso/oracle/internal/store"
	"github.com/spf13/cobra"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the Oracle gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port      int
		bind      string
		storeKind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if storeKind != "" {
				cfg.Session.Store = storeKind
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			root, logFile, err := logging.Open(logging.Options{
				Level:        cfg.Logging.Level,
				ConsoleStyle: cfg.Logging.ConsoleStyle,
				File:         cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			defer logFile.Close()

			// Load raw config for RPC access
			raw, err := config.LoadRaw(paths.Config)
			if err != nil {
				raw = make(map[string]any)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sessions, closer, err := store.Open(ctx, cfg.Session, paths, root.Sub("store"))
			if err != nil {
				return fmt.Errorf("opening session store: %w", err)
			}
			defer closer.Close()
			root.Info().Str("store", cfg.Session.Store).Msg("session store ready")

			registry := llm.NewRegistryFromConfig(cfg, root.Sub("llm"))
			creds := llm.CredentialsFromConfig(cfg)
			if !creds.Any() {
				root.Warn().Msg("no provider API keys configured; clients must send their own")
			}

			hookMgr := hooks.NewManager(root.Sub("hooks"))
			rl := relay.New(relay.NewSelector(registry, cfg.Relay), root.Sub("relay"))
			orch := agent.NewOrchestrator(rl, sessions, root.Sub("agent"),
				agent.WithHooks(hookMgr),
				agent.WithCredentials(creds),
			)
			root.Info().Strs("providers", rl.Selector().Providers()).Msg("relay ready")

			srv := gateway.New(cfg, root.Sub("gateway"),
				gateway.WithConfigRaw(raw),
				gateway.WithHooks(hookMgr),
				gateway.WithRelay(rl),
				gateway.WithOrchestrator(orch),
				gateway.WithCredentials(creds),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().StringVar(&storeKind, "store", "", "override session store (sqlite, bolt, redis, memory)")

	return cmd
}
