package wallet

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSeed = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testKEK  = "2b7e151628aed2a6abf7158809cf4f3c2b7e151628aed2a6abf7158809cf4f3c"
)

func newTestDeriver(t *testing.T) *Deriver {
	t.Helper()
	d, err := NewDeriver(testSeed, testKEK)
	require.NoError(t, err)
	return d
}

func TestNewDeriverRejectsShortSeed(t *testing.T) {
	_, err := NewDeriver("deadbeef", testKEK)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}

func TestNewDeriverRejectsBadHex(t *testing.T) {
	_, err := NewDeriver("not-hex", testKEK)
	require.Error(t, err)
}

func TestDeriveIsDeterministic(t *testing.T) {
	d := newTestDeriver(t)

	first, err := d.Derive("tx_001")
	require.NoError(t, err)
	second, err := d.Derive("tx_001")
	require.NoError(t, err)

	assert.Equal(t, first.Address, second.Address)
}

func TestDeriveDistinctIDsDistinctAddresses(t *testing.T) {
	d := newTestDeriver(t)

	seen := make(map[string]string)
	for _, id := range []string{"tx_001", "tx_002", "tx_003", "tx_004", "a", "b"} {
		w, err := d.Derive(id)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(w.Address, "0x"))

		prev, dup := seen[w.Address]
		require.False(t, dup, "address collision between %s and %s", prev, id)
		seen[w.Address] = id
	}
}

func TestDeriveRejectsEmptyID(t *testing.T) {
	d := newTestDeriver(t)
	_, err := d.Derive("")
	require.Error(t, err)
}

func TestDifferentSeedsYieldDifferentAddresses(t *testing.T) {
	d1 := newTestDeriver(t)
	d2, err := NewDeriver(strings.Repeat("ab", 32), testKEK)
	require.NoError(t, err)

	w1, err := d1.Derive("tx_001")
	require.NoError(t, err)
	w2, err := d2.Derive("tx_001")
	require.NoError(t, err)

	assert.NotEqual(t, w1.Address, w2.Address)
}

func TestOpenRecoversSigningKey(t *testing.T) {
	d := newTestDeriver(t)

	w, err := d.Derive("tx_001")
	require.NoError(t, err)

	secret, err := d.Open(w.EncryptedPrivateKey)
	require.NoError(t, err)
	defer secret.Zero()

	derived := crypto.PubkeyToAddress(secret.ECDSA().PublicKey).Hex()
	assert.Equal(t, w.Address, derived)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	d := newTestDeriver(t)
	w, err := d.Derive("tx_001")
	require.NoError(t, err)

	other, err := NewDeriver(testSeed, strings.Repeat("00", 31)+"aa")
	require.NoError(t, err)

	_, err = other.Open(w.EncryptedPrivateKey)
	require.Error(t, err)
}

func TestDerivationIndexBounded(t *testing.T) {
	for _, id := range []string{"tx_001", "x", strings.Repeat("z", 200)} {
		idx := DerivationIndex(id)
		assert.Less(t, idx, uint32(1<<31))
	}
	assert.Equal(t, DerivationIndex("tx_001"), DerivationIndex("tx_001"))
}
