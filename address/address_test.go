package address

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"
)

const (
	genesisAddr = "xrb_3t6k35gi95xu6tergt6p69ck76ogmitsa8mnijtpxm9fkcm736xtoncuohr3"
	genesisKey  = "E89208DD038FBB269987689621D52292AE9C35941A7484756ECCED92A65093BA"
	burnAddr    = "nano_1111111111111111111111111111111111111111111111111111hifc8npp"
)

func TestDecodeKnownAddresses(t *testing.T) {
	cases := []struct {
		name string
		addr string
		want string
	}{
		{"genesis xrb", genesisAddr, genesisKey},
		{"genesis nano", "nano_" + strings.TrimPrefix(genesisAddr, "xrb_"), genesisKey},
		{"burn", burnAddr, strings.Repeat("0", 64)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(tc.addr, false)
			if err != nil {
				t.Fatalf("decode %s: %v", tc.addr, err)
			}
			if got != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	body := strings.TrimPrefix(genesisAddr, "xrb_")
	cases := []struct {
		name string
		addr string
	}{
		{"no prefix", body},
		{"truncated prefix", "xr_" + body},
		{"banano prefix on nano network", "ban_" + body},
		{"short body", "xrb_" + body[:59]},
		{"long body", "xrb_" + body + "1"},
		{"bad symbol", "xrb_" + strings.Replace(body, "3", "2", 1)},
		{"bad checksum", genesisAddr[:len(genesisAddr)-1] + "1"},
		{"padding bits set", "xrb_4" + body[1:]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.addr, false); err == nil {
				t.Errorf("expected %q to be rejected", tc.addr)
			}
		})
	}
}

func TestBananoPrefix(t *testing.T) {
	addr := "ban_" + strings.TrimPrefix(genesisAddr, "xrb_")
	got, err := Decode(addr, true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != genesisKey {
		t.Errorf("expected %s, got %s", genesisKey, got)
	}
	if Valid(genesisAddr, true) {
		t.Errorf("xrb_ address accepted on banano network")
	}
}

func TestEncodeMatchesDecode(t *testing.T) {
	keys := [][]byte{
		bytes.Repeat([]byte{0xff}, 32),
		bytes.Repeat([]byte{0x01}, 32),
	}
	raw, _ := hex.DecodeString(genesisKey)
	keys = append(keys, raw)

	for _, key := range keys {
		addr, err := Encode(key, "nano_")
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(addr) != len("nano_")+60 {
			t.Fatalf("unexpected address length %d", len(addr))
		}
		got, err := Decode(addr, false)
		if err != nil {
			t.Fatalf("decode %s: %v", addr, err)
		}
		if got != strings.ToUpper(hex.EncodeToString(key)) {
			t.Errorf("key mismatch for %s", addr)
		}
	}

	addr, _ := Encode(raw, "xrb_")
	if addr != genesisAddr {
		t.Errorf("expected %s, got %s", genesisAddr, addr)
	}
}

func TestPubKeySkipsValidation(t *testing.T) {
	// broken checksum and unknown prefix are fine for PubKey
	addr := "foo_" + strings.TrimPrefix(genesisAddr, "xrb_")[:52] + "11111111"
	key, err := PubKey(addr)
	if err != nil {
		t.Fatalf("pubkey: %v", err)
	}
	if strings.ToUpper(hex.EncodeToString(key)) != genesisKey {
		t.Errorf("unexpected key %x", key)
	}
	if _, err := PubKey("xrb_short"); err == nil {
		t.Errorf("expected short address to fail")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("nano_1abc"); got != "xrb_1abc" {
		t.Errorf("got %s", got)
	}
	if got := Normalize("xrb_1abc"); got != "xrb_1abc" {
		t.Errorf("got %s", got)
	}
}
