package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, 20)
	addr, err := NewAddress(HoldPrefix, raw)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(HoldPrefix)+"1") {
		t.Fatalf("encoded address %q missing prefix", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip altered address bytes")
	}
	if decoded.Prefix() != HoldPrefix {
		t.Fatalf("prefix = %q, want %q", decoded.Prefix(), HoldPrefix)
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(HoldPrefix, make([]byte, 19)); err == nil {
		t.Fatalf("19-byte address should fail")
	}
	if _, err := NewAddress(HoldPrefix, make([]byte, 21)); err == nil {
		t.Fatalf("21-byte address should fail")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "hold1", "not bech32 at all", "hold1qqqqqq"} {
		if _, err := DecodeAddress(input); err == nil {
			t.Errorf("DecodeAddress(%q) should fail", input)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if key.PubKey().Address().String() != restored.PubKey().Address().String() {
		t.Fatalf("restored key derives a different address")
	}
}

func TestDistinctKeysDistinctAddresses(t *testing.T) {
	first, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	second, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey: %v", err)
	}
	if first.PubKey().Address().String() == second.PubKey().Address().String() {
		t.Fatalf("two fresh keys must not share an address")
	}
}
