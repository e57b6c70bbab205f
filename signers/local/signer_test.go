package local

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func TestNewSigner_InvalidKey(t *testing.T) {
	if _, err := NewSigner("not-a-key"); err == nil {
		t.Fatal("Expected error for invalid private key")
	}
}

func TestNewSigner_HexPrefix(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(key))

	signer, err := NewSigner(hexKey)
	if err != nil {
		t.Fatalf("Failed to create signer: %v", err)
	}
	if signer.Address() != crypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("Expected address %s, got %s",
			crypto.PubkeyToAddress(key.PublicKey).Hex(), signer.Address().Hex())
	}
}

func TestSignDigest_VConvention(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	signer := NewSignerFromKey(key)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256([]byte("digest")))

	signature, err := signer.SignDigest(digest)
	if err != nil {
		t.Fatalf("Failed to sign: %v", err)
	}

	if len(signature) != 65 {
		t.Fatalf("Expected 65-byte signature, got %d", len(signature))
	}
	if v := signature[64]; v != 27 && v != 28 {
		t.Errorf("Expected V in {27, 28}, got %d", v)
	}
}
