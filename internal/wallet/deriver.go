package wallet

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"golang.org/x/crypto/ripemd160"
)

var (
	ErrInvalidIndex   = errors.New("invalid derivation index")
	ErrKeyUnavailable = errors.New("wallet key unavailable")
)

// Dash P2PKH version bytes.
const (
	MainnetVersion byte = 76
	TestnetVersion byte = 140
)

const xpubSecretName = "DASH_XPUB"

// SecretSource supplies the account xpub. The service never holds private
// key material.
type SecretSource interface {
	Get(name string) (string, error)
}

// Deriver computes receiving addresses from an account-level extended public
// key. The xpub already embeds purpose/coin/account; Derive walks only the
// external-chain leaf 0/<index>. The key is loaded once and cached for the
// process lifetime.
type Deriver struct {
	Secrets SecretSource
	Version byte

	mu  sync.Mutex
	key *hdkeychain.ExtendedKey
}

func NewDeriver(secrets SecretSource, testnet bool) *Deriver {
	version := MainnetVersion
	if testnet {
		version = TestnetVersion
	}
	return &Deriver{Secrets: secrets, Version: version}
}

func (d *Deriver) accountKey() (*hdkeychain.ExtendedKey, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.key != nil {
		return d.key, nil
	}
	if d.Secrets == nil {
		return nil, fmt.Errorf("%w: no secret source configured", ErrKeyUnavailable)
	}
	xpub, err := d.Secrets.Get(xpubSecretName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("%w: parse xpub: %v", ErrKeyUnavailable, err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("%w: refusing to load a private extended key", ErrKeyUnavailable)
	}
	d.key = key
	return key, nil
}

// DeriveAddress is deterministic: the same xpub and index always yield the
// same address, so historical addresses can be regenerated for audit.
func (d *Deriver) DeriveAddress(index int64) (string, error) {
	if index < 0 || index > math.MaxUint32 {
		return "", fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	key, err := d.accountKey()
	if err != nil {
		return "", err
	}

	external, err := key.Derive(0)
	if err != nil {
		return "", fmt.Errorf("derive external chain: %w", err)
	}
	child, err := external.Derive(uint32(index))
	if err != nil {
		return "", fmt.Errorf("derive index %d: %w", index, err)
	}
	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("derive index %d: %w", index, err)
	}

	hash := sha256.Sum256(pubKey.SerializeCompressed())
	rip := ripemd160.New()
	_, _ = rip.Write(hash[:])
	return base58.CheckEncode(rip.Sum(nil), d.Version), nil
}

// ValidateAddress reports whether addr is a well-formed P2PKH address for the
// configured network. It never fails; malformed input is simply false.
func (d *Deriver) ValidateAddress(addr string) bool {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return false
	}
	return version == d.Version && len(payload) == ripemd160.Size
}
