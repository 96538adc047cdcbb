package cli

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/oracle/internal/config"
	"github.com/soyeahso/oracle/internal/llm"
	"github.com/soyeahso/oracle/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Oracle status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Oracle %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			fmt.Fprintf(out, "Session: store=%s path=%s\n", cfg.Session.Store, paths.SessionStorePath(cfg.Session))
			fmt.Fprintf(out, "Relay:   model=%s order=%s fallback=%s\n",
				cfg.Relay.DefaultModel, strings.Join(cfg.Relay.Order, ","), cfg.Relay.Fallback)

			creds := llm.CredentialsFromConfig(cfg)
			for _, name := range llm.NewRegistryFromConfig(cfg, log).List() {
				key := "missing"
				if creds.Key(name) != "" {
					key = "set"
				}
				p := cfg.Providers[name]
				fmt.Fprintf(out, "Provider %s: url=%s model=%s key=%s\n", name, p.BaseURL, p.DefaultModel, key)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			if running(ctx, gatewayURL(cfg)) {
				fmt.Fprintln(out, "\nGateway: running")
			} else {
				fmt.Fprintln(out, "\nGateway: not running")
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			return nil
		},
	}

	return cmd
}

// running reports whether a gateway answers its health check at base.
func running(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
