package cli

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "easiwork",
		Short: "easiwork, an assistant you email",
		Long: "easiwork reads requests mailed to its alias, works on them with an AI agent and mails back " +
			"a summary. Each mail thread is a persistent session that can be watched live over a websocket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env in the working directory first; it may set EASIWORK_HOME
			loadDotEnv(".env")

			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			loadDotEnv(filepath.Join(paths.Base, ".env"))
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.easiwork/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newMailCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStorageCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set.
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}
