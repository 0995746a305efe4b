package cli

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/soyeahso/easiwork/internal/mailbox"
	"github.com/spf13/cobra"
)

const pruneInterval = 5 * time.Minute

func newServeCmd() *cobra.Command {
	var (
		port   int
		bind   string
		noMail bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the mailbox, run the agent and serve the realtime channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			plog, closeLog, err := processLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			a, err := newApp(cfg, plog)
			if err != nil {
				return err
			}
			defer a.Close()

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var wg sync.WaitGroup
			defer wg.Wait()

			idle := time.Duration(cfg.Session.IdleMinutes) * time.Minute
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.sessions.RunPruner(ctx, pruneInterval, idle)
			}()

			switch {
			case noMail:
				plog.Info().Msg("mail polling disabled")
			case !cfg.Mail.Configured():
				plog.Warn().Msg("mail user, password or alias not set; mail polling disabled")
			default:
				poller := mailbox.NewPoller(cfg.Mail, plog)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := poller.Run(ctx, a.router.HandleTrigger); err != nil {
						plog.Error().Err(err).Msg("mail poller stopped")
					}
				}()
				plog.Info().
					Str("alias", cfg.Mail.Alias).
					Str("folder", cfg.Mail.Folder).
					Int("interval", cfg.Mail.PollInterval).
					Msg("mail polling active")
			}

			return a.gateway.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().BoolVar(&noMail, "no-mail", false, "serve the realtime channel without polling mail")

	return cmd
}
