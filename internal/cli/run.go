package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// defaultPrompt is used when run is given no prompt.
const defaultPrompt = `Search Google Maps for restaurants within a 0.5-mile radius of the Barclays Center in Brooklyn. Filter results to include:

Cuisine type: (e.g., American, Italian, Asian fusion)
Price range: (e.g., $ to $$ or moderate)
Open for dinner at current time
Sorted by highest rating
Include restaurants with at least 4-star reviews

Provide the top 3 restaurant options with:

Restaurant name
Exact address
Current rating
Price range
Cuisine type
Brief description from reviews

Verify the current hours of operation for each restaurant to confirm they are open for dinner.`

func newRunCmd() *cobra.Command {
	var (
		sessionID string
		rewrite   bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run one prompt against a session and print the final text",
		Long: `Run one prompt against a session and print the final text.

run builds its own session store and does not coordinate with a running
"easiwork serve". Do not point --session at a session that serve is
handling: both processes save the whole transcript, so the last writer
overwrites the other's turns, and events from this run are never relayed to
serve's websocket subscribers. Use a session id of its own (the default is
"cli") or stop serve first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt = defaultPrompt
			}
			if rewrite {
				if prompt, err = a.composer.Rewrite(ctx, prompt); err != nil {
					return err
				}
			}

			text, err := a.orch.Run(ctx, sessionID, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "cli", "session id to run against")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "rewrite the prompt with the compose model first")

	return cmd
}
