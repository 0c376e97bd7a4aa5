package chain

import (
	"BTCFiRisk/internal/ledger"
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/oracle"
	"BTCFiRisk/internal/state"
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Caller is the subset of *ethclient.Client the adapter uses.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type Config struct {
	Address       common.Address
	DebtDecimals  int
	PriceDecimals int
	CallTimeout   time.Duration
	RateLimit     float64 // calls per second
	RateBurst     int
	Retry         RetryPolicy
}

// LendingContract reads positions, the collateral price and the contract's
// own health factor from the external ledger. It implements
// ledger.PositionSource, oracle.PriceSource and validator.ContractHealthSource.
type LendingContract struct {
	caller  Caller
	abi     abi.ABI
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Dial connects to an RPC endpoint and wraps it.
func Dial(ctx context.Context, url string, cfg Config, metrics *observability.Metrics) (*LendingContract, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	lc, err := NewLendingContract(client, cfg, metrics)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return lc, client, nil
}

// NewLendingContract refuses a contract whose debt scale differs from the
// engine's canonical one; rescaling debt silently would misstate every bound.
func NewLendingContract(caller Caller, cfg Config, metrics *observability.Metrics) (*LendingContract, error) {
	if cfg.DebtDecimals != fp.DebtConfig.DecimalPrecision {
		return nil, fmt.Errorf("contract debt decimals %d differ from canonical %d",
			cfg.DebtDecimals, fp.DebtConfig.DecimalPrecision)
	}
	if cfg.PriceDecimals < 0 {
		return nil, fmt.Errorf("invalid price decimals %d", cfg.PriceDecimals)
	}
	parsed, err := LendingABI()
	if err != nil {
		return nil, fmt.Errorf("parse lending abi: %w", err)
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}

	return &LendingContract{
		caller:  caller,
		abi:     parsed,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		logger:  observability.NewLogger("chain").With().Str("contract", cfg.Address.Hex()).Logger(),
		metrics: metrics,
	}, nil
}

func (lc *LendingContract) Name() string { return "lending-contract" }

// Ping checks that the RPC endpoint answers.
func (lc *LendingContract) Ping(ctx context.Context) error {
	_, err := lc.blockNumber(ctx)
	return err
}

// FetchPosition reads collateral and debt pinned to the same block so the
// pair is consistent. An unknown account reads as zero on chain.
func (lc *LendingContract) FetchPosition(ctx context.Context, acct ledger.Account) (state.Position, uint64, error) {
	block, err := lc.blockNumber(ctx)
	if err != nil {
		return state.Position{}, 0, err
	}
	at := new(big.Int).SetUint64(block)

	collateral, err := lc.call(ctx, methodCollateral, at, acct)
	if err != nil {
		return state.Position{}, 0, err
	}
	debt, err := lc.call(ctx, methodDebt, at, acct)
	if err != nil {
		return state.Position{}, 0, err
	}
	return state.Position{Collateral: collateral, Debt: debt}, block, nil
}

// LatestPrice reads the contract's collateral price at its native decimals.
func (lc *LendingContract) LatestPrice(ctx context.Context) (oracle.RawPrice, error) {
	block, err := lc.blockNumber(ctx)
	if err != nil {
		return oracle.RawPrice{}, err
	}
	price, err := lc.call(ctx, methodPrice, new(big.Int).SetUint64(block))
	if err != nil {
		return oracle.RawPrice{}, err
	}
	if price.IsZero() {
		return oracle.RawPrice{}, oracle.ErrNoData
	}
	return oracle.RawPrice{
		Value:       price,
		Decimals:    lc.cfg.PriceDecimals,
		BlockNumber: block,
		ObservedAt:  time.Now(),
	}, nil
}

// ContractHealthFactor returns the contract's health factor (x100, 0 = no debt).
func (lc *LendingContract) ContractHealthFactor(ctx context.Context, acct ledger.Account) (uint256.Int, error) {
	return lc.call(ctx, methodHealthFactor, nil, acct)
}

func (lc *LendingContract) blockNumber(ctx context.Context) (uint64, error) {
	return timed(lc, ctx, "eth_blockNumber", func(ctx context.Context) (uint64, error) {
		return lc.caller.BlockNumber(ctx)
	})
}

// call packs method(args...), executes it at block (nil = latest) and
// decodes the single uint256 result.
func (lc *LendingContract) call(ctx context.Context, method string, block *big.Int, args ...interface{}) (uint256.Int, error) {
	data, err := lc.abi.Pack(method, args...)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &lc.cfg.Address, Data: data}

	out, err := timed(lc, ctx, method, func(ctx context.Context) ([]byte, error) {
		return lc.caller.CallContract(ctx, msg, block)
	})
	if err != nil {
		return uint256.Int{}, err
	}

	values, err := lc.abi.Unpack(method, out)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return uint256.Int{}, fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return uint256.Int{}, fmt.Errorf("unpack %s: unexpected type %T", method, values[0])
	}
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return uint256.Int{}, fmt.Errorf("unpack %s: value exceeds 256 bits", method)
	}
	return *v, nil
}

// timed runs one rate-limited, retried, per-attempt-deadlined RPC.
func timed[T any](lc *LendingContract, ctx context.Context, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	onRetry := func(attempt int, err error) {
		lc.logger.Debug().Err(err).Str("method", method).Int("attempt", attempt).Msg("retrying rpc")
		if lc.metrics != nil {
			lc.metrics.ChainRetries.WithLabelValues(method).Inc()
		}
	}

	start := time.Now()
	result, err := withRetry(ctx, lc.cfg.Retry, onRetry, func(ctx context.Context) (T, error) {
		if err := lc.limiter.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
		if lc.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, lc.cfg.CallTimeout)
			defer cancel()
		}
		return fn(ctx)
	})

	if lc.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		lc.metrics.ChainCalls.WithLabelValues(method, status).Inc()
		lc.metrics.ChainCallLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return result, fmt.Errorf("%s: %w", method, err)
	}
	return result, nil
}
