// Package identity holds the local keypair used to sign published events.
package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

var ErrInvalidKey = errors.New("invalid secret key")

// Signer stamps an event with its author, id and signature.
type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, ev *relay.Event) error
}

type KeySigner struct {
	priv *btcec.PrivateKey
	pub  string
}

// ParseSecretKey accepts a 64-character hex secret key.
func ParseSecretKey(secretHex string) (*KeySigner, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(raw); overflow || scalar.IsZero() {
		return nil, ErrInvalidKey
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return newKeySigner(priv), nil
}

// Generate creates a fresh random keypair.
func Generate() (*KeySigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeySigner(priv), nil
}

func newKeySigner(priv *btcec.PrivateKey) *KeySigner {
	return &KeySigner{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

func (k *KeySigner) PublicKey() string { return k.pub }

func (k *KeySigner) SecretHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

func (k *KeySigner) Sign(_ context.Context, ev *relay.Event) error {
	ev.PubKey = k.pub
	id := ev.ComputeID()
	hash, err := hex.DecodeString(id)
	if err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	sig, err := schnorr.Sign(k.priv, hash)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	ev.ID = id
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}
