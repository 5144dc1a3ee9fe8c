package cmd

import (
	"payer-reconciliation-service/cmd/reconciler/config"
	"payer-reconciliation-service/internal/api"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation API over HTTP",
	Long: `Serve exposes reconciliation, alias decisions, seeding and roster uploads
under /api/v1/tenants/{tenant}. The server stops gracefully on SIGINT or
SIGTERM. Logs are JSON lines on stdout unless --log-format is given.`,
	Example: `  reconciler serve --store sqlite --store-dsn /var/lib/reconciler.db --listen-addr :8080
  RECONCILER_STORE=redis RECONCILER_REDIS_ADDR=localhost:6379 reconciler serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String(config.KeyListenAddr, api.DefaultConfig().ListenAddr, "address to listen on")
	serveCmd.Flags().StringSlice(config.KeyAllowedOrigins, []string{"*"}, "CORS allowed origins")
	viper.BindPFlag(config.KeyListenAddr, serveCmd.Flags().Lookup(config.KeyListenAddr))
	viper.BindPFlag(config.KeyAllowedOrigins, serveCmd.Flags().Lookup(config.KeyAllowedOrigins))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if !viper.GetBool(config.KeyVerbose) {
		gin.SetMode(gin.ReleaseMode)
	}
	if !cmd.Flags().Changed(config.KeyLogFormat) {
		logCfg := logger.ServerConfig()
		logCfg.Level = settings.Logger.Level
		log, err := logger.NewLogger(logCfg)
		if err != nil {
			return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyLogFormat, logCfg.Format, err)
		}
		logger.SetGlobalLogger(log)
	}

	rt, err := openRuntime(cmd.Context(), "serve", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := api.NewServer(rt.runner, rt.stores.Aliases, rt.stores.Writer, settings.Server, rt.log)
	if err != nil {
		return err
	}
	return srv.Run(cmd.Context())
}
