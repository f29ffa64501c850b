package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/blertbank/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr                = "listen-addr"
	flagGRPCListenAddr            = "grpc-listen-addr"
	flagDatabaseURL               = "database-url"
	flagStoreDriver               = "store-driver"
	flagServiceToken              = "service-token"
	flagRedisAddr                 = "redis-addr"
	flagRedisPassword             = "redis-password"
	flagRedisDB                   = "redis-db"
	flagReplayCacheTTL            = "replay-cache-ttl"
	flagSystemAccounts            = "system-accounts"
	flagNonNegativeSystemAccounts = "non-negative-system-accounts"
	flagAllowedOrigins            = "allowed-origins"
	flagShutdownTimeout           = "shutdown-timeout"
	flagLogDevelopment            = "log-development"
	envPrefix                     = "BLERTBANK"
	envDatabaseURIAlias           = "BLERTBANK_DATABASE_URI"
)

var configFlags = []string{
	flagListenAddr,
	flagGRPCListenAddr,
	flagDatabaseURL,
	flagStoreDriver,
	flagServiceToken,
	flagRedisAddr,
	flagRedisPassword,
	flagRedisDB,
	flagReplayCacheTTL,
	flagSystemAccounts,
	flagNonNegativeSystemAccounts,
	flagAllowedOrigins,
	flagShutdownTimeout,
	flagLogDevelopment,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blertbank: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	rootCmd := &cobra.Command{
		Use:           "blertbank",
		Short:         "Blertcoin double-entry ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagListenAddr, "", "HTTP listen address (default :3013)")
	flags.String(flagGRPCListenAddr, "", "gRPC listen address; gRPC is disabled when empty")
	flags.String(flagDatabaseURL, "", "postgres:// or sqlite:// database url")
	flags.String(flagStoreDriver, config.StoreDriverGorm, "store implementation: gorm or pgx")
	flags.String(flagServiceToken, "", "shared token expected in X-Service-Token (required for serve)")
	flags.String(flagRedisAddr, "", "redis address for the idempotent replay cache; disabled when empty")
	flags.String(flagRedisPassword, "", "redis password")
	flags.Int(flagRedisDB, 0, "redis database index")
	flags.Duration(flagReplayCacheTTL, 0, "lifetime of cached idempotent results (default 24h)")
	flags.String(flagSystemAccounts, "", "comma-separated system accounts to seed (default treasury,purchases)")
	flags.String(flagNonNegativeSystemAccounts, "", "comma-separated system accounts that may not go negative (default purchases)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.Duration(flagShutdownTimeout, 0, "graceful shutdown timeout (default 5s)")
	flags.Bool(flagLogDevelopment, false, "use the human-readable development logger")

	rootCmd.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newSeedCommand(cfg),
	)
	return rootCmd
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP (and optional gRPC) ledger API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.ValidateForServe()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServe(ctx, cfg, logger)
		},
	}
}

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runMigrate(cmd.Context(), cfg, logger)
		},
	}
}

func newSeedCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-system-accounts",
		Short: "Ensure the configured system accounts exist",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runSeed(cmd.Context(), cfg, logger)
		},
	}
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range configFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	if err := v.BindEnv(flagDatabaseURL, envPrefix+"_DATABASE_URL", envDatabaseURIAlias); err != nil {
		return err
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.StoreDriver = strings.TrimSpace(v.GetString(flagStoreDriver))
	cfg.ServiceToken = v.GetString(flagServiceToken)
	cfg.RedisAddr = strings.TrimSpace(v.GetString(flagRedisAddr))
	cfg.RedisPassword = v.GetString(flagRedisPassword)
	cfg.RedisDB = v.GetInt(flagRedisDB)
	cfg.ReplayCacheTTL = v.GetDuration(flagReplayCacheTTL)
	cfg.SystemAccounts = config.ParseList(v.GetString(flagSystemAccounts))
	if v.IsSet(flagNonNegativeSystemAccounts) {
		cfg.NonNegativeSystemAccounts = config.ParseList(v.GetString(flagNonNegativeSystemAccounts))
	}
	cfg.AllowedOrigins = config.ParseList(v.GetString(flagAllowedOrigins))
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)
	cfg.LogDevelopment = v.GetBool(flagLogDevelopment)
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger.Named("blertbank"), nil
}
