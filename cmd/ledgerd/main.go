package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/remitops/minorista-ledger/internal/httpapi"
	"github.com/remitops/minorista-ledger/internal/notify/kafkanotify"
	"github.com/remitops/minorista-ledger/internal/store/gormstore"
	"github.com/remitops/minorista-ledger/internal/store/pgstore"
	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
)

const (
	flagDatabaseURL    = "database-url"
	flagListenAddr     = "listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagProfitRate     = "profit-rate"
	flagKafkaBrokers   = "kafka-brokers"
	flagKafkaTopic     = "kafka-topic"

	configKeyDatabaseURL    = "database_url"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyProfitRate     = "profit_rate"
	configKeyKafkaBrokers   = "kafka_brokers"
	configKeyKafkaTopic     = "kafka_topic"

	defaultDatabaseURL = "sqlite:///tmp/minorista-ledger.db"
	defaultListenAddr  = ":8080"
	defaultProfitRate  = "0.05"
	defaultKafkaTopic  = "ledger.mutations"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	AllowedOrigins string
	ProfitRate     string
	KafkaBrokers   string
	KafkaTopic     string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "ledgerd",
		Short:         "Reseller credit ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagProfitRate, defaultProfitRate, "Default profit rate applied to discharges")
	cmd.Flags().String(flagKafkaBrokers, "", "Comma-separated Kafka brokers for mutation events (optional)")
	cmd.Flags().String(flagKafkaTopic, defaultKafkaTopic, "Kafka topic for mutation events")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		key     string
		envName string
		flag    string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyListenAddr, "LISTEN_ADDR", flagListenAddr},
		{configKeyAllowedOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
		{configKeyProfitRate, "PROFIT_RATE", flagProfitRate},
		{configKeyKafkaBrokers, "KAFKA_BROKERS", flagKafkaBrokers},
		{configKeyKafkaTopic, "KAFKA_TOPIC", flagKafkaTopic},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.key, binding.envName); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.key, cmd.Flags().Lookup(binding.flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.ProfitRate = viper.GetString(configKeyProfitRate)
	cfg.KafkaBrokers = viper.GetString(configKeyKafkaBrokers)
	cfg.KafkaTopic = viper.GetString(configKeyKafkaTopic)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.ProfitRate == "" {
		cfg.ProfitRate = defaultProfitRate
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() { _ = cleanup() }()

	profitRate, err := money.NewRateFromString(cfg.ProfitRate)
	if err != nil {
		return fmt.Errorf("profit rate: %w", err)
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	options := []ledger.ServiceOption{
		ledger.WithOperationLogger(&zapOperationLogger{logger: logger}),
	}
	if cfg.KafkaBrokers != "" {
		publisher := kafkanotify.New(splitList(cfg.KafkaBrokers), cfg.KafkaTopic, logger)
		defer func() { _ = publisher.Close() }()
		options = append(options, ledger.WithMutationNotifier(publisher))
	}
	ledgerService, err := ledger.NewService(store, clock, options...)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	auditor, err := ledger.NewAuditor(store)
	if err != nil {
		return fmt.Errorf("auditor init: %w", err)
	}

	server, err := httpapi.New(httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		DefaultProfitRate: profitRate,
	}, ledgerService, auditor, logger)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

// openStore picks the backend from the URL scheme: postgres URLs get the
// pgx-backed store, everything else is treated as a SQLite path behind gorm.
func openStore(ctx context.Context, dsn string) (ledger.Store, func() error, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pgstore.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	sqlitePath, err := resolveSQLitePath(dsn)
	if err != nil {
		return nil, nil, err
	}
	db, err := gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := gormstore.Migrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return gormstore.New(db.WithContext(ctx)), cleanup, nil
}

func resolveSQLitePath(dsn string) (string, error) {
	path := dsn
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path = parsed.Path
		if path == "" {
			path = parsed.Host
		}
	}
	if path == "" || path == "/" {
		path = "minorista-ledger.db"
	}
	return normalizeSQLitePath(path)
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = filepath.Join(".", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

// zapOperationLogger bridges ledger operation callbacks onto the process logger.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.String("amount", entry.Amount.String()),
		zap.String("status", entry.Status),
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("ledger operation", fields...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}
