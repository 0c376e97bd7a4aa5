package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Read surface of the lending contract. Amounts are unsigned fixed-point:
// collateral at 1e8, debt and price at the configured decimals, health
// factor x100 with 0 meaning no debt.
const lendingABIJSON = `[
  {"type":"function","name":"get_user_collateral","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"get_user_debt","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"get_btc_price","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"calculate_health_factor","stateMutability":"view",
   "inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const (
	methodCollateral   = "get_user_collateral"
	methodDebt         = "get_user_debt"
	methodPrice        = "get_btc_price"
	methodHealthFactor = "calculate_health_factor"
)

// LendingABI parses the contract's read ABI.
func LendingABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(lendingABIJSON))
}
