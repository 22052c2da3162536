package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"proximg/internal/config"
	"proximg/internal/pkg/logger"
	"proximg/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proximg server",
	Long:  `Start the proximg HTTP server and begin proxying image requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		// 初始化全局 logger
		globalLogger, err := logger.New(cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer globalLogger.Sync()

		globalLogger.Info("configuration loaded",
			zap.String("addr", cfg.Server.Addr()),
			zap.Int("max_redirects", cfg.Proxy.MaxRedirects),
			zap.Int64("max_content_length", cfg.Proxy.MaxContentLength),
			zap.Strings("excluded_hosts", cfg.Proxy.ExcludedHosts),
			zap.Duration("hop_timeout", cfg.Proxy.HopTimeout),
		)

		srv, err := server.FromConfig(cfg, globalLogger)
		if err != nil {
			return err
		}
		return srv.Start()
	},
}

func SetupServeCmd() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "Server port")
	serveCmd.Flags().StringP("host", "H", "0.0.0.0", "Server host")
	serveCmd.Flags().Int("max-redirects", 4, "Maximum redirects followed per request")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("proxy.max_redirects", serveCmd.Flags().Lookup("max-redirects"))
	viper.BindPFlag("log.level", serveCmd.Flags().Lookup("log-level"))
}
