package state

import (
	fp "BTCFiRisk/internal/math"
	"fmt"

	"github.com/holiman/uint256"
)

// LiquidationThreshold is the fraction of collateral value that counts as
// borrowing power, in basis points (8000 = 80%). Fixed at configuration time.
type LiquidationThreshold uint64

// DefaultLiquidationThreshold matches the deployed lending contract.
const DefaultLiquidationThreshold LiquidationThreshold = 8_000

// RiskParams groups the protocol-wide risk configuration.
type RiskParams struct {
	Threshold LiquidationThreshold

	// WarningHealthFactor is the boundary between Warning and Safe (1e18 scale).
	WarningHealthFactor uint256.Int
}

// DefaultRiskParams returns the protocol defaults: 80% threshold, warn below 1.50.
func DefaultRiskParams() RiskParams {
	return RiskParams{
		Threshold:           DefaultLiquidationThreshold,
		WarningHealthFactor: HealthFactorFromHundredths(150),
	}
}

func (t LiquidationThreshold) Uint256() *uint256.Int {
	return uint256.NewInt(uint64(t))
}

func (t LiquidationThreshold) String() string {
	return fmt.Sprintf("%d bps", uint64(t))
}

// ValidateThreshold checks 0 < threshold <= 10000.
func ValidateThreshold(t LiquidationThreshold) error {
	if t == 0 {
		return fmt.Errorf("liquidation threshold must be > 0")
	}
	if t > fp.BasisPoints {
		return fmt.Errorf("liquidation threshold must be <= %d bps, got %d", fp.BasisPoints, uint64(t))
	}
	return nil
}

// ValidateRiskParams checks that risk parameters are within valid ranges.
func ValidateRiskParams(params RiskParams) error {
	if err := ValidateThreshold(params.Threshold); err != nil {
		return err
	}
	one := fp.HealthFactorConfig.Scale
	if params.WarningHealthFactor.Lt(&one) {
		return fmt.Errorf("warning health factor must be >= 1.00, got %s",
			fp.FormatAmountPlaces(&params.WarningHealthFactor, fp.HealthFactorConfig, 2))
	}
	return nil
}

// HealthFactorFromHundredths lifts a contract-scale value (150 = 1.50) to 1e18 scale.
func HealthFactorFromHundredths(v uint64) uint256.Int {
	hf, _ := fp.Rescale(uint256.NewInt(v), fp.ContractHealthFactorConfig.DecimalPrecision,
		fp.HealthFactorConfig.DecimalPrecision, fp.RoundDown)
	return hf
}
