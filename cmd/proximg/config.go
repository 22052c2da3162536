package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proximg/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  `Print the effective configuration as JSON after merging defaults, config file, environment and flags. Secrets are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(); err != nil {
			return err
		}
		doc, err := config.Dump(viper.GetViper())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
		return nil
	},
}

func SetupConfigCmd() {
	rootCmd.AddCommand(configCmd)
}
