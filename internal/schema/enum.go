package schema

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Mode is the active run mode of the core.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeReplay
	ModeSimulated
	ModeLive
)

var modeNames = [...]string{
	ModeUnknown:   "unknown",
	ModeReplay:    "replay",
	ModeSimulated: "simulated",
	ModeLive:      "live",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return modeNames[ModeUnknown]
}

// ParseMode resolves a mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "replay", "backtest":
		return ModeReplay, nil
	case "simulated", "sim", "paper":
		return ModeSimulated, nil
	case "live":
		return ModeLive, nil
	default:
		return ModeUnknown, fmt.Errorf("unknown mode: %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Side describes trade direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	switch s {
	case SideBuy:
		return decimal.NewFromInt(1)
	case SideSell:
		return decimal.NewFromInt(-1)
	default:
		return decimal.Zero
	}
}

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideUnknown
	}
}

// ParseSide resolves a side name.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long":
		return SideBuy, nil
	case "sell", "short":
		return SideSell, nil
	default:
		return SideUnknown, fmt.Errorf("unknown side: %q", s)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SideOf returns the side that increases a position of the given sign.
func SideOf(qty decimal.Decimal) Side {
	switch qty.Sign() {
	case 1:
		return SideBuy
	case -1:
		return SideSell
	default:
		return SideUnknown
	}
}
