package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Account identifies a position holder on the external ledger.
type Account = common.Address

// ParseAccount accepts a 0x-prefixed 20-byte hex address.
func ParseAccount(s string) (Account, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return Account{}, fmt.Errorf("invalid account address %q", s)
	}
	return common.HexToAddress(s), nil
}

// AccountPath is the canonical string key for an account's cached position,
// e.g. "position:0x5fbdb2315678afecb367f032d93f642f64180aa3".
func AccountPath(acct Account) string {
	return "position:" + strings.ToLower(acct.Hex())
}
