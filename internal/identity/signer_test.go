package identity

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/Cheese-Relay-Chess/internal/relay"
)

const keyOne = "0000000000000000000000000000000000000000000000000000000000000001"

func TestParseSecretKey(t *testing.T) {
	k, err := ParseSecretKey(keyOne)
	require.NoError(t, err)
	assert.Equal(t, "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", k.PublicKey())
	assert.Equal(t, keyOne, k.SecretHex())
}

func TestParseSecretKey_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"zz",
		"0000000000000000000000000000000000000000000000000000000000000000",
		"fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141",
		"01",
	} {
		_, err := ParseSecretKey(in)
		assert.ErrorIs(t, err, ErrInvalidKey, in)
	}
}

func TestKeySigner_Sign(t *testing.T) {
	k, err := Generate()
	require.NoError(t, err)

	ev := relay.Event{CreatedAt: 1700000000, Kind: 3064, Tags: [][]string{{"d", "g"}}, Content: "New Chess Game"}
	require.NoError(t, k.Sign(context.Background(), &ev))
	assert.Equal(t, k.PublicKey(), ev.PubKey)

	assert.Equal(t, ev.ComputeID(), ev.ID)
	ok, err := ev.VerifySignature()
	require.NoError(t, err)
	assert.True(t, ok)

	rawSig, err := hex.DecodeString(ev.Sig)
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(rawSig)
	require.NoError(t, err)
	rawPub, err := hex.DecodeString(ev.PubKey)
	require.NoError(t, err)
	pub, err := schnorr.ParsePubKey(rawPub)
	require.NoError(t, err)
	hash, _ := hex.DecodeString(ev.ID)
	assert.True(t, sig.Verify(hash, pub))
}
