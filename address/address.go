// Package address converts between account addresses and raw 256-bit public keys.
package address

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	alphabet = "13456789abcdefghijkmnopqrstuwxyz"

	keySymbols      = 52
	checksumSymbols = 8
	checksumSize    = 5
	keySize         = 32
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrBadChecksum    = errors.New("address checksum mismatch")
)

var (
	NanoPrefixes   = []string{"nano_", "xrb_"}
	BananoPrefixes = []string{"ban_"}
)

var lookup [256]int8

func init() {
	for i := range lookup {
		lookup[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		lookup[alphabet[i]] = int8(i)
	}
}

// Prefixes returns the accepted address prefixes of the network.
func Prefixes(banano bool) []string {
	if banano {
		return BananoPrefixes
	}
	return NanoPrefixes
}

// HasPrefix reports whether s starts with one of the network prefixes.
func HasPrefix(s string, banano bool) bool {
	return trimPrefix(s, Prefixes(banano)) != s
}

func trimPrefix(s string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return s[len(p):]
		}
	}
	return s
}

// Decode validates addr and returns its public key as 64 uppercase hex characters.
func Decode(addr string, banano bool) (string, error) {
	key, err := decodeChecked(addr, Prefixes(banano))
	if err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(key)), nil
}

// Valid reports whether addr is a well formed address of the network.
func Valid(addr string, banano bool) bool {
	_, err := decodeChecked(addr, Prefixes(banano))
	return err == nil
}

func decodeChecked(addr string, prefixes []string) ([]byte, error) {
	body := trimPrefix(addr, prefixes)
	if body == addr || len(body) != keySymbols+checksumSymbols {
		return nil, ErrInvalidAddress
	}
	key, err := decodeKey(body[:keySymbols])
	if err != nil {
		return nil, err
	}
	check, err := decodeSymbols(body[keySymbols:])
	if err != nil {
		return nil, err
	}
	expected := checksum(key)
	for i := range expected {
		if expected[i] != check[i] {
			return nil, ErrBadChecksum
		}
	}
	return key, nil
}

// PubKey extracts the key segment of an address the caller already trusts.
// Prefix and checksum are not validated.
func PubKey(addr string) ([]byte, error) {
	body := addr
	if i := strings.LastIndexByte(addr, '_'); i >= 0 {
		body = addr[i+1:]
	}
	if len(body) < keySymbols {
		return nil, ErrInvalidAddress
	}
	return decodeKey(body[:keySymbols])
}

// Encode builds an address from a 32 byte public key.
func Encode(key []byte, prefix string) (string, error) {
	if len(key) != keySize {
		return "", ErrInvalidAddress
	}
	var sb strings.Builder
	sb.Grow(len(prefix) + keySymbols + checksumSymbols)
	sb.WriteString(prefix)
	encodeSymbols(&sb, key, 4)
	encodeSymbols(&sb, checksum(key), 0)
	return sb.String(), nil
}

// EncodeHex is Encode for a hex encoded key.
func EncodeHex(key string, prefix string) (string, error) {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return "", ErrInvalidAddress
	}
	return Encode(raw, prefix)
}

func checksum(key []byte) []byte {
	h, _ := blake2b.New(checksumSize, nil)
	h.Write(key)
	sum := h.Sum(nil)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return sum
}

// decodeKey turns 52 symbols (260 bits) into 32 bytes, dropping the 4 leading padding bits.
func decodeKey(s string) ([]byte, error) {
	if len(s) != keySymbols {
		return nil, ErrInvalidAddress
	}
	first := lookup[s[0]]
	if first < 0 || first > 1 {
		return nil, ErrInvalidAddress
	}
	out := make([]byte, 0, keySize)
	acc := uint32(first)
	bits := uint(1)
	for i := 1; i < len(s); i++ {
		v := lookup[s[i]]
		if v < 0 {
			return nil, ErrInvalidAddress
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	return out, nil
}

func decodeSymbols(s string) ([]byte, error) {
	out := make([]byte, 0, len(s)*5/8)
	var acc uint32
	var bits uint
	for i := 0; i < len(s); i++ {
		v := lookup[s[i]]
		if v < 0 {
			return nil, ErrInvalidAddress
		}
		acc = acc<<5 | uint32(v)
		bits += 5
		if bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
			acc &= 1<<bits - 1
		}
	}
	return out, nil
}

func encodeSymbols(sb *strings.Builder, data []byte, padBits uint) {
	var acc uint32
	bits := padBits
	for _, b := range data {
		acc = acc<<8 | uint32(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			sb.WriteByte(alphabet[(acc>>bits)&31])
		}
		acc &= 1<<bits - 1
	}
}

// Normalize rewrites nano_ addresses to the legacy xrb_ form stored by older clients.
func Normalize(addr string) string {
	if strings.HasPrefix(addr, "nano_") {
		return "xrb_" + addr[len("nano_"):]
	}
	return addr
}
