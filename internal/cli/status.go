package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/gateway"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/soyeahso/easiwork/internal/store"
	"github.com/soyeahso/easiwork/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show easiwork status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "easiwork %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Storage: %s\n", paths.Storage)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:  error loading: %v\n", err)
				return nil
			}

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Token != "")
			if h, err := fetchHealth(cmd.Context(), cfg.Gateway); err != nil {
				fmt.Fprintln(out, "         not running")
			} else {
				fmt.Fprintf(out, "         running %s, %d subscriber(s), up %s\n", h.Version, h.Subscribers, h.Uptime)
			}

			if cfg.Mail.Configured() {
				fmt.Fprintf(out, "Mail:    alias=%s folder=%s every %ds scope=%s\n",
					cfg.Mail.Alias, cfg.Mail.Folder, cfg.Mail.PollInterval, cfg.Mail.SessionScope)
			} else {
				fmt.Fprintln(out, "Mail:    (not configured)")
			}
			fmt.Fprintf(out, "Agent:   provider=%s model=%s key=%v\n",
				cfg.Agent.Provider, cfg.Agent.Model, cfg.Agent.APIKey != "")
			fmt.Fprintf(out, "Compose: enabled=%v model=%s key=%v\n",
				cfg.Compose.Enabled, cfg.Compose.Model, cfg.Compose.APIKey != "")

			fmt.Fprintf(out, "Session: store=%s idle=%dm", cfg.Session.Store, cfg.Session.IdleMinutes)
			if st, ok := databaseStats(cmd.Context()); ok {
				fmt.Fprintf(out, " stored=%d schema=v%d", st.sessions, st.schema)
			}
			fmt.Fprintln(out)

			if issues := config.Validate(&cfg); len(issues) > 0 {
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

// fetchHealth asks a running gateway on this host for its health.
func fetchHealth(ctx context.Context, cfg config.GatewayConfig) (gateway.HealthResponse, error) {
	var h gateway.HealthResponse
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Port), nil)
	if err != nil {
		return h, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return h, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return h, fmt.Errorf("health: HTTP %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&h)
	return h, err
}

type dbStats struct {
	sessions int
	schema   int
}

// databaseStats reads the session count and schema version from an existing
// transcript database.
func databaseStats(ctx context.Context) (dbStats, bool) {
	var st dbStats
	if _, err := os.Stat(paths.Database()); err != nil {
		return st, false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := store.Open(paths.Database(), logging.New(nil, "silent"))
	if err != nil {
		return st, false
	}
	defer db.Close()

	ids, err := store.NewTranscriptStore(db).SessionIDs(ctx)
	if err != nil {
		return st, false
	}
	st.sessions = len(ids)
	if st.schema, err = db.SchemaVersion(ctx); err != nil {
		return st, false
	}
	return st, true
}
