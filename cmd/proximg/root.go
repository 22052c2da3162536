package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proximg/internal/config"
	"proximg/internal/core"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "proximg",
	Short:   "Image fetching proxy",
	Long:    `proximg - A forward proxy that fetches remote images with size, type and host policy.`,
	Version: core.Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	SetupServeCmd()
	SetupConfigCmd()
}

func initConfig() {
	config.Init(cfgFile)
}
