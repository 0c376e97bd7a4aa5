package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// overrideWithEnv applies BTCFI_* variables on top of the file/default values.
func (c *Config) overrideWithEnv() error {
	envString("BTCFI_RPC_URL", &c.Chain.RPCURL)
	envString("BTCFI_CONTRACT_ADDRESS", &c.Chain.ContractAddress)
	envString("BTCFI_NATS_URL", &c.NATS.URL)
	envString("BTCFI_POSTGRES_DSN", &c.Postgres.DSN)
	envString("BTCFI_MIGRATIONS_DIR", &c.Postgres.MigrationsDir)
	envString("BTCFI_REDIS_ADDR", &c.Redis.Addr)
	envString("BTCFI_REDIS_PASSWORD", &c.Redis.Password)
	envString("BTCFI_GRPC_ADDR", &c.Server.GRPCAddr)
	envString("BTCFI_HTTP_ADDR", &c.Server.HTTPAddr)
	envString("BTCFI_METRICS_ADDR", &c.Server.MetricsAddr)

	if err := envInt("BTCFI_DEBT_DECIMALS", &c.Chain.DebtDecimals); err != nil {
		return err
	}
	if err := envInt("BTCFI_PRICE_DECIMALS", &c.Chain.PriceDecimals); err != nil {
		return err
	}
	if err := envInt("BTCFI_RATE_BURST", &c.Chain.RateBurst); err != nil {
		return err
	}
	if err := envInt("BTCFI_MAX_RETRIES", &c.Chain.MaxRetries); err != nil {
		return err
	}
	if err := envInt("BTCFI_REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}
	if err := envFloat("BTCFI_RATE_LIMIT", &c.Chain.RateLimit); err != nil {
		return err
	}
	if err := envUint("BTCFI_THRESHOLD_BPS", &c.Risk.ThresholdBps); err != nil {
		return err
	}
	if err := envUint("BTCFI_WARNING_HUNDREDTHS", &c.Risk.WarningHundredths); err != nil {
		return err
	}
	if err := envUint("BTCFI_DRIFT_TOLERANCE_HUNDREDTHS", &c.Risk.DriftToleranceHundredths); err != nil {
		return err
	}
	if err := envDuration("BTCFI_CALL_TIMEOUT", &c.Chain.CallTimeout); err != nil {
		return err
	}
	if err := envDuration("BTCFI_ORACLE_TIMEOUT", &c.Chain.OracleTimeout); err != nil {
		return err
	}
	if err := envDuration("BTCFI_MAX_QUOTE_AGE", &c.Risk.MaxQuoteAge); err != nil {
		return err
	}
	return envDuration("BTCFI_POSITION_TTL", &c.Redis.PositionTTL)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func envUint(key string, dst *uint64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = u
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
