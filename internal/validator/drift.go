package validator

import (
	"BTCFiRisk/internal/ledger"
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"context"
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ContractHealthSource reads the lending contract's own health factor,
// scaled by 100 with 0 meaning "no debt".
type ContractHealthSource interface {
	ContractHealthFactor(ctx context.Context, acct ledger.Account) (uint256.Int, error)
}

// DriftReport compares the contract's health factor with the local one at
// the contract's scale.
type DriftReport struct {
	Contract uint256.Int
	Local    uint256.Int
	Diff     uint256.Int
	Exceeded bool
}

// DriftDetector flags accounts whose locally derived health factor disagrees
// with the contract by more than Tolerance hundredths.
type DriftDetector struct {
	source    ContractHealthSource
	tolerance uint256.Int
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewDriftDetector(source ContractHealthSource, toleranceHundredths uint64, metrics *observability.Metrics) *DriftDetector {
	return &DriftDetector{
		source:    source,
		tolerance: *uint256.NewInt(toleranceHundredths),
		logger:    observability.NewLogger("drift"),
		metrics:   metrics,
	}
}

func (dd *DriftDetector) Check(ctx context.Context, acct ledger.Account, local state.HealthFactor) (DriftReport, error) {
	contract, err := dd.source.ContractHealthFactor(ctx, acct)
	if err != nil {
		return DriftReport{}, fmt.Errorf("read contract health factor: %w", err)
	}

	report := DriftReport{Contract: contract, Local: local.Hundredths()}
	if report.Contract.Gt(&report.Local) {
		report.Diff = fp.SubFloor(&report.Contract, &report.Local)
	} else {
		report.Diff = fp.SubFloor(&report.Local, &report.Contract)
	}
	report.Exceeded = report.Diff.Gt(&dd.tolerance)

	if dd.metrics != nil {
		diff := math.Inf(1)
		if report.Diff.IsUint64() {
			diff = float64(report.Diff.Uint64())
		}
		dd.metrics.HealthFactorDrift.Observe(diff)
		if report.Exceeded {
			dd.metrics.HealthFactorDrifts.Inc()
		}
	}
	if report.Exceeded {
		dd.logger.Warn().
			Str("account", acct.Hex()).
			Str("contract_hf", report.Contract.Dec()).
			Str("local_hf", report.Local.Dec()).
			Str("diff", report.Diff.Dec()).
			Msg("health factor drift above tolerance")
	}
	return report, nil
}
