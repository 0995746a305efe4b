package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/mailbox"
	"github.com/spf13/cobra"
)

func newMailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Process mail without running the server",
	}

	cmd.AddCommand(newMailPollCmd())
	cmd.AddCommand(newMailProcessCmd())
	return cmd
}

// mailApp loads config and wires the app for a one-off mail command.
func mailApp() (*app, *mailbox.Poller, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Mail.Configured() {
		return nil, nil, &config.ConfigError{Message: "mail.user, mail.password and mail.alias are required"}
	}
	a, err := newApp(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a, mailbox.NewPoller(cfg.Mail, log), nil
}

func newMailPollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Handle unseen mail once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, poller, err := mailApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			n, err := poller.Poll(ctx, a.router.HandleTrigger)
			fmt.Fprintf(cmd.OutOrStdout(), "handled %d mail(s)\n", n)
			return err
		},
	}
}

func newMailProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <uid>",
		Short: "Handle one mail by UID, even if it was already seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid uid %q: %w", args[0], err)
			}

			a, poller, err := mailApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return poller.ProcessUID(ctx, uint32(uid), a.router.HandleTrigger)
		},
	}
}
