// Package crypto provides the public-key encryption used between paired
// devices: NaCl box (Curve25519, XSalsa20, Poly1305) with a fresh random
// nonce per message. Keys and ciphertexts travel base64-encoded.
//
// The relay server never imports this package; only device clients do.
// Session binds a Box to one peer and satisfies transfer.Cipher.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/nextlevelbuilder/cliprelay/pkg/transfer"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	// ErrInvalidKey is returned for keys that are not base64 of 32 bytes.
	ErrInvalidKey = errors.New("key must be base64-encoded 32 bytes")
	// ErrDecrypt is returned when authentication of a ciphertext fails.
	ErrDecrypt = errors.New("decrypt failed: invalid key or corrupted data")
)

// Sealed is a ciphertext together with the nonce it was sealed with.
type Sealed = transfer.Sealed

// KeyPair is a device's box key pair, base64-encoded.
type KeyPair struct {
	PublicKey string
	SecretKey string
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	return KeyPair{
		PublicKey: base64.StdEncoding.EncodeToString(pub[:]),
		SecretKey: base64.StdEncoding.EncodeToString(priv[:]),
	}, nil
}

// Box implements encrypt(plaintext, peerPublicKey, ownSecretKey) and its
// inverse.
type Box struct{}

// Encrypt seals plaintext for the holder of peerPublicKey.
func (Box) Encrypt(plaintext []byte, peerPublicKey, ownSecretKey string) (Sealed, error) {
	peer, err := decodeKey(peerPublicKey)
	if err != nil {
		return Sealed{}, err
	}
	own, err := decodeKey(ownSecretKey)
	if err != nil {
		return Sealed{}, err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return Sealed{}, fmt.Errorf("read nonce: %w", err)
	}

	out := box.Seal(nil, plaintext, &nonce, peer, own)
	return Sealed{
		Data:  base64.StdEncoding.EncodeToString(out),
		Nonce: base64.StdEncoding.EncodeToString(nonce[:]),
	}, nil
}

// Decrypt opens a Sealed message sent by the holder of peerPublicKey.
func (Box) Decrypt(sealed Sealed, peerPublicKey, ownSecretKey string) ([]byte, error) {
	peer, err := decodeKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	own, err := decodeKey(ownSecretKey)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(sealed.Data)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	rawNonce, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil || len(rawNonce) != nonceSize {
		return nil, fmt.Errorf("nonce must be base64-encoded %d bytes", nonceSize)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], rawNonce)

	plaintext, ok := box.Open(nil, data, &nonce, peer, own)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func decodeKey(s string) (*[keySize]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != keySize {
		return nil, ErrInvalidKey
	}
	var k [keySize]byte
	copy(k[:], b)
	return &k, nil
}

// Session seals for and opens from one peer.
type Session struct {
	Box
	PeerPublicKey string
	OwnSecretKey  string
}

var _ transfer.Cipher = Session{}

// NewSession binds own to the peer's public key after checking both keys.
func NewSession(own KeyPair, peerPublicKey string) (Session, error) {
	if _, err := decodeKey(peerPublicKey); err != nil {
		return Session{}, fmt.Errorf("peer public key: %w", err)
	}
	if _, err := decodeKey(own.SecretKey); err != nil {
		return Session{}, fmt.Errorf("own secret key: %w", err)
	}
	return Session{PeerPublicKey: peerPublicKey, OwnSecretKey: own.SecretKey}, nil
}

func (s Session) Seal(plaintext []byte) (Sealed, error) {
	return s.Encrypt(plaintext, s.PeerPublicKey, s.OwnSecretKey)
}

func (s Session) Open(sealed Sealed) ([]byte, error) {
	return s.Decrypt(sealed, s.PeerPublicKey, s.OwnSecretKey)
}
