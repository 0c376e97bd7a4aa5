package validator

import (
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/state"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Preset is a quick-fill fraction of the action's ceiling, in basis points.
type Preset uint64

const (
	Preset25  Preset = 2_500
	Preset50  Preset = 5_000
	Preset75  Preset = 7_500
	PresetMax Preset = fp.BasisPoints
)

// Presets lists the quick-fill buttons in display order.
var Presets = []Preset{Preset25, Preset50, Preset75, PresetMax}

func (p Preset) String() string {
	if p == PresetMax {
		return "Max"
	}
	return fmt.Sprintf("%d%%", uint64(p)/100)
}

// ParsePreset accepts "25", "25%", "50", "75" or "max" (any case).
func ParsePreset(s string) (Preset, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "%")
	switch s {
	case "25":
		return Preset25, nil
	case "50":
		return Preset50, nil
	case "75":
		return Preset75, nil
	case "max", "100":
		return PresetMax, nil
	default:
		return 0, fmt.Errorf("unknown preset %q", s)
	}
}

// Ceiling is the largest amount the action may request for this position:
// max borrow, max withdraw or outstanding debt. Deposits have no ceiling.
func Ceiling(kind state.ActionKind, p state.Position, snap state.RiskSnapshot) (uint256.Int, error) {
	switch kind {
	case state.ActionBorrow:
		return snap.MaxBorrow, nil
	case state.ActionWithdraw:
		return snap.MaxWithdraw, nil
	case state.ActionRepay:
		return p.Debt, nil
	default:
		return uint256.Int{}, fmt.Errorf("%s has no preset ceiling", kind)
	}
}

// PresetAmount returns floor(ceiling * preset / 10000). Max is the exact ceiling.
func PresetAmount(kind state.ActionKind, p state.Position, snap state.RiskSnapshot, preset Preset) (uint256.Int, error) {
	ceiling, err := Ceiling(kind, p, snap)
	if err != nil {
		return uint256.Int{}, err
	}
	if preset == PresetMax {
		return ceiling, nil
	}
	if preset == 0 || preset > PresetMax {
		return uint256.Int{}, fmt.Errorf("preset out of range: %d bps", uint64(preset))
	}
	return fp.Fraction(&ceiling, uint64(preset)), nil
}
