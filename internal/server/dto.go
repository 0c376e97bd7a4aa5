package server

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/ledger"
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/validator"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// amountJSON carries both the wire value (integer units) and a display string.
type amountJSON struct {
	Units   string `json:"units"`
	Display string `json:"display"`
}

func newAmount(x uint256.Int, cfg fp.DecimalConfig) amountJSON {
	return amountJSON{Units: x.Dec(), Display: fp.FormatAmount(&x, cfg)}
}

type quoteResponse struct {
	Price       amountJSON `json:"price"`
	AsOf        time.Time  `json:"as_of"`
	BlockNumber uint64     `json:"block_number,omitempty"`
	Source      string     `json:"source"`
}

func newQuoteResponse(q state.PriceQuote) quoteResponse {
	return quoteResponse{
		Price:       newAmount(q.Price, fp.PriceConfig),
		AsOf:        q.AsOf.UTC(),
		BlockNumber: q.BlockNumber,
		Source:      q.Source,
	}
}

type snapshotJSON struct {
	CollateralValue amountJSON `json:"collateral_value"`
	BorrowPower     amountJSON `json:"borrow_power"`
	HealthFactor    string     `json:"health_factor"` // "∞" when debt-free
	MaxBorrow       amountJSON `json:"max_borrow"`
	MaxWithdraw     amountJSON `json:"max_withdraw"`
	Status          string     `json:"status"`
}

func newSnapshot(s *state.RiskSnapshot) *snapshotJSON {
	if s == nil {
		return nil
	}
	return &snapshotJSON{
		CollateralValue: newAmount(s.CollateralValue, fp.DebtConfig),
		BorrowPower:     newAmount(s.BorrowPower, fp.DebtConfig),
		HealthFactor:    s.HealthFactor.String(),
		MaxBorrow:       newAmount(s.MaxBorrow, fp.DebtConfig),
		MaxWithdraw:     newAmount(s.MaxWithdraw, fp.CollateralConfig),
		Status:          s.Status.String(),
	}
}

type positionJSON struct {
	Collateral amountJSON `json:"collateral"`
	Debt       amountJSON `json:"debt"`
}

func newPosition(p state.Position) positionJSON {
	return positionJSON{
		Collateral: newAmount(p.Collateral, fp.CollateralConfig),
		Debt:       newAmount(p.Debt, fp.DebtConfig),
	}
}

type driftJSON struct {
	ContractHundredths string `json:"contract_hundredths"`
	LocalHundredths    string `json:"local_hundredths"`
	Exceeded           bool   `json:"exceeded"`
}

type riskResponse struct {
	Account  string        `json:"account"`
	Position positionJSON  `json:"position"`
	Quote    quoteResponse `json:"quote"`
	Risk     *snapshotJSON `json:"risk"`
	Drift    *driftJSON    `json:"drift,omitempty"`
}

func newRiskResponse(a validator.Assessment) riskResponse {
	resp := riskResponse{
		Account:  accountString(a.Account),
		Position: newPosition(a.Position),
		Quote:    newQuoteResponse(a.Quote),
		Risk:     newSnapshot(&a.Snapshot),
	}
	if a.Drift != nil {
		resp.Drift = &driftJSON{
			ContractHundredths: a.Drift.Contract.Dec(),
			LocalHundredths:    a.Drift.Local.Dec(),
			Exceeded:           a.Drift.Exceeded,
		}
	}
	return resp
}

type decisionResponse struct {
	Account  string        `json:"account"`
	Action   string        `json:"action"`
	Amount   amountJSON    `json:"amount"`
	Accepted bool          `json:"accepted"`
	Kind     string        `json:"kind,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Position positionJSON  `json:"position"`
	Before   *snapshotJSON `json:"before,omitempty"`
	After    *snapshotJSON `json:"after,omitempty"`
}

func newDecisionResponse(d validator.Decision) decisionResponse {
	resp := decisionResponse{
		Account:  accountString(d.Account),
		Action:   d.Action.String(),
		Amount:   newAmount(d.Amount, amountConfig(d.Action)),
		Accepted: d.Accepted,
		Reason:   d.Reason,
		Position: newPosition(d.Position),
		Before:   newSnapshot(d.Before),
		After:    newSnapshot(d.After),
	}
	if !d.Accepted {
		resp.Kind = d.Kind.String()
	}
	return resp
}

type actionResponse struct {
	ID            string     `json:"id"`
	Account       string     `json:"account"`
	Action        string     `json:"action"`
	Amount        amountJSON `json:"amount"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	TxHash        string     `json:"tx_hash,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func newActionResponse(a action.Action) actionResponse {
	return actionResponse{
		ID:            a.ID.String(),
		Account:       accountString(a.Account),
		Action:        a.Kind.String(),
		Amount:        newAmount(a.Amount, amountConfig(a.Kind)),
		Status:        a.Status.String(),
		FailureReason: a.FailureReason,
		TxHash:        a.TxHash,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

type submitResponse struct {
	Action   actionResponse   `json:"action"`
	Decision decisionResponse `json:"decision"`
}

type statsResponse struct {
	TotalCollateral amountJSON     `json:"total_collateral"`
	TotalDebt       amountJSON     `json:"total_debt"`
	ActivePositions int            `json:"active_positions"`
	TVL             *amountJSON    `json:"tvl,omitempty"`
	Quote           *quoteResponse `json:"quote,omitempty"`
}

func newStatsResponse(s ledger.ProtocolStats, q *state.PriceQuote) statsResponse {
	resp := statsResponse{
		TotalCollateral: newAmount(s.TotalCollateral, fp.CollateralConfig),
		TotalDebt:       newAmount(s.TotalDebt, fp.DebtConfig),
		ActivePositions: s.ActivePositions,
	}
	if q != nil {
		tvl := newAmount(s.TVL, fp.DebtConfig)
		qr := newQuoteResponse(*q)
		resp.TVL = &tvl
		resp.Quote = &qr
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// amountConfig is the unit scale of an action's amount.
func amountConfig(kind state.ActionKind) fp.DecimalConfig {
	if kind.CollateralDenominated() {
		return fp.CollateralConfig
	}
	return fp.DebtConfig
}

func accountString(acct ledger.Account) string {
	return strings.ToLower(acct.Hex())
}
