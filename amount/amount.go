// Package amount parses raw ledger amounts and renders them in display units.
package amount

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/holiman/uint256"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Unit describes how many raw make one display unit and how many decimals are shown.
type Unit struct {
	Name     string
	RawExp   uint64
	Decimals uint64
}

var (
	Nano   = Unit{Name: "NANO", RawExp: 30, Decimals: 6}
	Banano = Unit{Name: "BANANO", RawExp: 29, Decimals: 2}
)

// For returns the unit of the network.
func For(banano bool) Unit {
	if banano {
		return Banano
	}
	return Nano
}

// Parse reads a decimal raw amount.
func Parse(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, ErrInvalidAmount
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// ParseHex reads the 128-bit hex balance used by legacy blocks.
func ParseHex(raw string) (*uint256.Int, error) {
	raw = strings.TrimPrefix(raw, "0x")
	if raw == "" || len(raw) > 64 {
		return nil, ErrInvalidAmount
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrInvalidAmount
	}
	return new(uint256.Int).SetBytes(b), nil
}

// Pow10 returns 10^n.
func Pow10(n uint64) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(n))
}

// Format converts raw to display units, truncating beyond the unit's decimals.
func (u Unit) Format(raw *uint256.Int) string {
	scaled := new(uint256.Int).Div(raw, Pow10(u.RawExp-u.Decimals))
	base := Pow10(u.Decimals)
	whole := new(uint256.Int).Div(scaled, base).Dec()
	frac := new(uint256.Int).Mod(scaled, base).Dec()
	if frac == "0" {
		return whole
	}
	frac = strings.Repeat("0", int(u.Decimals)-len(frac)) + frac
	return whole + "." + strings.TrimRight(frac, "0")
}
