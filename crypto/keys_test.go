package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(FHEPrefix)+"1") {
		t.Fatalf("unexpected prefix on %q", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatal("byte representation differs")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, value := range []string{"", "fhe1", "not-bech32", "fhe1qqqqqqqq"} {
		if _, err := DecodeAddress(value); err == nil {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("expected 65-byte signature, got %d", len(sig))
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !recovered.Equal(key.PubKey().Address()) {
		t.Fatal("recovered address mismatch")
	}
	if _, err := RecoverAddress(digest, sig[:64]); err == nil {
		t.Fatal("expected truncated signature to be rejected")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if !restored.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatal("restored key has a different address")
	}
}

func TestKeccak256Concatenates(t *testing.T) {
	joined := Keccak256([]byte("ab"), []byte("cd"))
	whole := Keccak256([]byte("abcd"))
	if joined != whole {
		t.Fatal("digest must cover the concatenation")
	}
}
