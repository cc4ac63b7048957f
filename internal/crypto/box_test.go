package crypto

import (
	"errors"
	"testing"
)

func TestBox_RoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	var b Box
	sealed, err := b.Encrypt([]byte("hello bob"), bob.PublicKey, alice.SecretKey)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if sealed.Data == "" || sealed.Nonce == "" {
		t.Fatalf("empty sealed message: %+v", sealed)
	}

	plain, err := b.Decrypt(sealed, alice.PublicKey, bob.SecretKey)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plain) != "hello bob" {
		t.Errorf("plaintext = %q, want %q", plain, "hello bob")
	}
}

func TestBox_WrongKeyFails(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	eve, _ := GenerateKeyPair()

	var b Box
	sealed, err := b.Encrypt([]byte("secret"), bob.PublicKey, alice.SecretKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(sealed, alice.PublicKey, eve.SecretKey); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Decrypt with wrong key error = %v, want ErrDecrypt", err)
	}
}

func TestBox_InvalidKey(t *testing.T) {
	alice, _ := GenerateKeyPair()
	var b Box
	if _, err := b.Encrypt([]byte("x"), "not-a-key", alice.SecretKey); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("error = %v, want ErrInvalidKey", err)
	}
}

func TestBox_NonceIsFresh(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()
	var b Box
	first, _ := b.Encrypt([]byte("same"), bob.PublicKey, alice.SecretKey)
	second, _ := b.Encrypt([]byte("same"), bob.PublicKey, alice.SecretKey)
	if first.Nonce == second.Nonce {
		t.Error("two encryptions reused a nonce")
	}
}

func TestSession_SealOpen(t *testing.T) {
	alice, _ := GenerateKeyPair()
	bob, _ := GenerateKeyPair()

	toBob, err := NewSession(alice, bob.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	fromAlice, err := NewSession(bob, alice.PublicKey)
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := toBob.Seal([]byte("clipboard"))
	if err != nil {
		t.Fatal(err)
	}
	plain, err := fromAlice.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "clipboard" {
		t.Errorf("plaintext = %q", plain)
	}
}

func TestNewSession_RejectsBadKeys(t *testing.T) {
	alice, _ := GenerateKeyPair()
	tests := []struct {
		name string
		own  KeyPair
		peer string
	}{
		{"bad peer", alice, "bm9wZQ=="},
		{"bad own", KeyPair{SecretKey: "???"}, alice.PublicKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSession(tt.own, tt.peer); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("error = %v, want ErrInvalidKey", err)
			}
		})
	}
}
