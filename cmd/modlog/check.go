package main

import (
	"fmt"
	"strings"

	"modlog/internal/config"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the config file and environment, then exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}
		path := configPath
		if strings.TrimSpace(path) == "" {
			path = env.ConfigPath
		}
		cfg, err := config.NewManager(path).Load()
		if err != nil {
			return err
		}
		addr, err := config.HealthAddr(cfg, env)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s (prefix %q, health %s)\n", path, cfg.PrefixOrDefault(), addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
