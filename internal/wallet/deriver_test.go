package wallet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// BIP32 test vector 1 master public key; any valid xpub works since
// derivation of 0/<index> uses only non-hardened steps.
const testXPub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

type staticSecrets map[string]string

func (s staticSecrets) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("no secret %s", name)
	}
	return v, nil
}

func testDeriver(t *testing.T) *Deriver {
	t.Helper()
	return NewDeriver(staticSecrets{"DASH_XPUB": testXPub}, true)
}

func TestDeriveAddressDeterministic(t *testing.T) {
	d := testDeriver(t)

	first, err := d.DeriveAddress(7)
	require.NoError(t, err)
	second, err := d.DeriveAddress(7)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A fresh deriver over the same key agrees.
	other, err := testDeriver(t).DeriveAddress(7)
	require.NoError(t, err)
	assert.Equal(t, first, other)
}

func TestDeriveAddressDistinctPerIndex(t *testing.T) {
	d := testDeriver(t)

	seen := make(map[string]int64)
	for i := int64(0); i < 20; i++ {
		addr, err := d.DeriveAddress(i)
		require.NoError(t, err)
		prev, dup := seen[addr]
		require.False(t, dup, "index %d collides with index %d", i, prev)
		seen[addr] = i
	}
}

func TestDeriveAddressInvalidIndex(t *testing.T) {
	d := testDeriver(t)

	_, err := d.DeriveAddress(-1)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = d.DeriveAddress(1 << 40)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestDeriveAddressKeyUnavailable(t *testing.T) {
	d := NewDeriver(staticSecrets{}, true)
	_, err := d.DeriveAddress(0)
	assert.ErrorIs(t, err, ErrKeyUnavailable)

	d = NewDeriver(staticSecrets{"DASH_XPUB": "not-an-xpub"}, true)
	_, err = d.DeriveAddress(0)
	assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestValidateAddress(t *testing.T) {
	d := testDeriver(t)

	addr, err := d.DeriveAddress(0)
	require.NoError(t, err)
	assert.True(t, d.ValidateAddress(addr))

	// Wrong network: the same payload under the mainnet version byte.
	mainnet := NewDeriver(staticSecrets{"DASH_XPUB": testXPub}, false)
	mainnetAddr, err := mainnet.DeriveAddress(0)
	require.NoError(t, err)
	assert.False(t, d.ValidateAddress(mainnetAddr))
	assert.True(t, mainnet.ValidateAddress(mainnetAddr))

	// Malformed input never panics, just returns false.
	assert.False(t, d.ValidateAddress(""))
	assert.False(t, d.ValidateAddress("not an address"))
	assert.False(t, d.ValidateAddress("yXdeadbeef0OIl"))
}
