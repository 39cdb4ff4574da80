package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"custodia/native/custody"
	"custodia/native/escrow"
)

type escrowCreateRequest struct {
	ID       string `json:"id"`
	Client   string `json:"client"`
	Provider string `json:"provider"`
	Arbiter  string `json:"arbiter,omitempty"`
	Amount   string `json:"amount"`
	Mode     string `json:"mode"`
}

type milestoneAddRequest struct {
	Caller      string `json:"caller"`
	MilestoneID uint64 `json:"milestoneId"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type slotAddRequest struct {
	Caller      string `json:"caller"`
	ReleaseTime int64  `json:"releaseTime"`
	Amount      string `json:"amount"`
}

type callerRequest struct {
	Caller string `json:"caller"`
}

type resolveRequest struct {
	Caller     string `json:"caller"`
	Resolution string `json:"resolution"`
}

type poolCreateRequest struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	Goal     string `json:"goal"`
	Deadline int64  `json:"deadline"`
}

type contributeRequest struct {
	Contributor string `json:"contributor"`
	Amount      string `json:"amount"`
}

type refundRequest struct {
	Contributor string `json:"contributor"`
}

type transferDirectRequest struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

type transferEscrowRequest struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
}

type milestoneView struct {
	ID          uint64 `json:"id"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Completed   bool   `json:"completed"`
	CompletedAt int64  `json:"completedAt,omitempty"`
}

type slotView struct {
	ReleaseTime int64  `json:"releaseTime"`
	Amount      string `json:"amount"`
	Released    bool   `json:"released"`
}

type contractView struct {
	ID          string          `json:"id"`
	Client      string          `json:"client"`
	Provider    string          `json:"provider"`
	Arbiter     string          `json:"arbiter,omitempty"`
	TotalAmount string          `json:"totalAmount"`
	Mode        string          `json:"mode"`
	Status      string          `json:"status"`
	Released    string          `json:"released"`
	CreatedAt   int64           `json:"createdAt"`
	Milestones  []milestoneView `json:"milestones,omitempty"`
	Schedule    []slotView      `json:"schedule,omitempty"`
}

type poolView struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Goal      string `json:"goal"`
	Raised    string `json:"raised"`
	Deadline  int64  `json:"deadline"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

type transferView struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    string `json:"amount"`
	UseEscrow bool   `json:"useEscrow"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

func contractToView(c *escrow.Contract) contractView {
	view := contractView{
		ID:          hex.EncodeToString(c.ID[:]),
		Client:      c.Client.Hex(),
		Provider:    c.Provider.Hex(),
		TotalAmount: c.TotalAmount.String(),
		Mode:        c.Mode.String(),
		Status:      c.Status.String(),
		Released:    c.Balance.Released.String(),
		CreatedAt:   c.CreatedAt,
	}
	if !c.Arbiter.IsZero() {
		view.Arbiter = c.Arbiter.Hex()
	}
	for _, m := range c.Ledger.Milestones {
		if m == nil {
			continue
		}
		view.Milestones = append(view.Milestones, milestoneView{
			ID:          m.ID,
			Description: m.Description,
			Amount:      m.Amount.String(),
			Completed:   m.Completed,
			CompletedAt: m.CompletedAt,
		})
	}
	for _, s := range c.Ledger.Schedule {
		if s == nil {
			continue
		}
		view.Schedule = append(view.Schedule, slotView{
			ReleaseTime: s.ReleaseTime,
			Amount:      s.Amount.String(),
			Released:    s.Released,
		})
	}
	return view
}

func parseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid identifier: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("identifier must be %d bytes", len(id))
	}
	copy(id[:], decoded)
	return id, nil
}

func parseParty(raw string) (custody.Party, error) {
	return custody.PartyFromHex(strings.TrimSpace(raw))
}

func parseOptionalParty(raw string) (custody.Party, error) {
	if strings.TrimSpace(raw) == "" {
		return custody.Party{}, nil
	}
	return parseParty(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func parseReleaseMode(raw string) (escrow.ReleaseMode, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "milestone":
		return escrow.ReleaseMilestone, nil
	case "time_sweep":
		return escrow.ReleaseTimeSweep, nil
	case "time_indexed":
		return escrow.ReleaseTimeIndexed, nil
	default:
		return escrow.ReleaseModeUnspecified, fmt.Errorf("unknown release mode %q", raw)
	}
}

func parseResolution(raw string) (escrow.Resolution, error) {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case "resume":
		return escrow.ResolutionResume, nil
	case "release":
		return escrow.ResolutionRelease, nil
	case "refund":
		return escrow.ResolutionRefund, nil
	default:
		return escrow.ResolutionUnspecified, fmt.Errorf("unknown resolution %q", raw)
	}
}
