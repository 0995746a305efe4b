package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/soyeahso/easiwork/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the config file",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print the value stored at a dotted key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRawConfig(args[0], false, func(raw map[string]any, key config.KeyPath) error {
					val, ok := key.Get(raw)
					if !ok {
						return fmt.Errorf("key %q not found", key)
					}
					return printValue(cmd.OutOrStdout(), val)
				})
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a value at a dotted key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := parseValue(args[1])
				err := withRawConfig(args[0], true, func(raw map[string]any, key config.KeyPath) error {
					key.Set(raw, value)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\n", args[0], value)
				return nil
			},
		},
		&cobra.Command{
			Use:   "unset <key>",
			Short: "Remove the value at a dotted key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				err := withRawConfig(args[0], true, func(raw map[string]any, key config.KeyPath) error {
					if !key.Unset(raw) {
						return fmt.Errorf("key %q not found", key)
					}
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Unset %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective config with defaults applied and secrets masked",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(paths.Config)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), masked(cfg))
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), paths.Config)
			},
		},
	)

	return cmd
}

// withRawConfig parses key, loads the raw config tree and hands both to fn.
// With save set, the tree is written back when fn succeeds.
func withRawConfig(rawKey string, save bool, fn func(map[string]any, config.KeyPath) error) error {
	key, err := config.ParseKeyPath(rawKey)
	if err != nil {
		return err
	}
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	if err := fn(raw, key); err != nil {
		return err
	}
	if !save {
		return nil
	}
	return config.SaveRaw(paths.Config, raw)
}

const secretMask = "********"

func masked(cfg config.Config) config.Config {
	for _, s := range []*string{&cfg.Mail.Password, &cfg.Agent.APIKey, &cfg.Compose.APIKey, &cfg.Gateway.Auth.Token} {
		if *s != "" {
			*s = secretMask
		}
	}
	return cfg
}

// printValue writes scalars on one line and trees as YAML.
func printValue(w io.Writer, v any) error {
	switch v.(type) {
	case string, bool, int, int64, float64, nil:
		_, err := fmt.Fprintln(w, v)
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// parseValue reads s as a bool, int or float before falling back to the
// string itself.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
