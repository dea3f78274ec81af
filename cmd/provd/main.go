package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/keystone-robotics/provenance/internal/api"
	"github.com/keystone-robotics/provenance/internal/identity"
	"github.com/keystone-robotics/provenance/internal/journal"
	"github.com/keystone-robotics/provenance/internal/ledger"
	"github.com/keystone-robotics/provenance/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("provd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("provd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.admin_secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("chain.id", 1)
	viper.SetDefault("ledger.admin", "")
	viper.SetDefault("ledger.treasury", "")
	viper.SetDefault("ledger.sink", "0x000000000000000000000000000000000000dEaD")
	viper.SetDefault("ledger.max_batch_size", 1000)
	viper.SetDefault("ledger.min_batch_interval", "1h")
	viper.SetDefault("ledger.min_stake", "100")
	viper.SetDefault("ledger.lock_period", "168h")
	viper.SetDefault("ledger.slash_delay", "24h")
	viper.SetDefault("ledger.treasury_share_bps", 5000)
	viper.SetDefault("ledger.reporter_share_bps", 3000)

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	params, err := loadParams()
	if err != nil {
		return err
	}

	adminHex := viper.GetString("ledger.admin")
	if !common.IsHexAddress(adminHex) {
		return fmt.Errorf("ledger.admin must be a hex address, got %q", adminHex)
	}
	admin := common.HexToAddress(adminHex)

	// ── Journal ──────────────────────────────────────────────────────────────
	var jrnl journal.Journal
	if dbURL := viper.GetString("database.url"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		pj, err := journal.NewPostgresJournal(context.Background(), pool, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		jrnl = pj
		logger.Info("journal: postgres")
	} else {
		jrnl = journal.New()
		logger.Info("journal: in-memory (set database.url for durability)")
	}

	startCtx := context.Background()
	if err := jrnl.Verify(startCtx); err != nil {
		logger.Warn("journal integrity check FAILED", zap.Error(err))
	} else {
		n, _ := jrnl.Len(startCtx)
		root, _ := jrnl.Root(startCtx)
		logger.Info("journal verified", zap.Int("entries", n), zap.String("root", root))
	}

	// ── Core subsystems ──────────────────────────────────────────────────────
	// The daemon runs with the in-process identity registry and token bank;
	// a production deployment substitutes the real collaborators behind the
	// same interfaces.
	registry := identity.NewMemoryRegistry(admin, params.MinStakeAmount)
	bank := token.NewBank()

	guard := ledger.NewGuard(admin)
	attestAddr := ledger.ModuleAddress("attestation")
	stakeAddr := ledger.ModuleAddress("stake")
	if err := registry.SetAttestationWriter(admin, attestAddr); err != nil {
		return fmt.Errorf("bind attestation writer: %w", err)
	}
	if err := registry.SetStakeWriter(admin, stakeAddr); err != nil {
		return fmt.Errorf("bind stake writer: %w", err)
	}

	attest := ledger.NewAttestationLedger(guard, registry, jrnl, attestAddr, params, logger)
	stake := ledger.NewStakeLedger(guard, registry, bank, jrnl, stakeAddr, params, logger)

	logger.Info("ledgers ready",
		zap.Uint64("chain_id", params.ChainID),
		zap.String("admin", admin.Hex()),
		zap.String("attestation_module", attestAddr.Hex()),
		zap.String("stake_module", stakeAddr.Hex()),
	)

	// ── HTTP server ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.NewServer(attest, stake, guard, registry, jrnl, api.Config{
		CORSOrigins:  viper.GetStringSlice("server.cors_origins"),
		RateLimitRPS: viper.GetInt("server.rate_limit_rps"),
		AdminSecret:  viper.GetString("server.admin_secret"),
	}, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", viper.GetInt("server.port")),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadParams assembles ledger.Params from viper config.
func loadParams() (ledger.Params, error) {
	params := ledger.DefaultParams()
	params.ChainID = viper.GetUint64("chain.id")
	params.MaxBatchSize = viper.GetUint64("ledger.max_batch_size")
	params.TreasuryShareBps = viper.GetUint64("ledger.treasury_share_bps")
	params.ReporterShareBps = viper.GetUint64("ledger.reporter_share_bps")

	minStake, ok := new(big.Int).SetString(viper.GetString("ledger.min_stake"), 10)
	if !ok {
		return params, fmt.Errorf("ledger.min_stake must be a decimal string, got %q", viper.GetString("ledger.min_stake"))
	}
	params.MinStakeAmount = minStake

	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"ledger.min_batch_interval", &params.MinBatchInterval},
		{"ledger.lock_period", &params.LockPeriod},
		{"ledger.slash_delay", &params.SlashProposalDelay},
	} {
		v, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return params, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if treasury := viper.GetString("ledger.treasury"); treasury != "" {
		if !common.IsHexAddress(treasury) {
			return params, fmt.Errorf("ledger.treasury must be a hex address, got %q", treasury)
		}
		params.Treasury = common.HexToAddress(treasury)
	}
	if sink := viper.GetString("ledger.sink"); sink != "" {
		if !common.IsHexAddress(sink) {
			return params, fmt.Errorf("ledger.sink must be a hex address, got %q", sink)
		}
		params.Sink = common.HexToAddress(sink)
	}

	return params, params.Validate()
}
