package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var ErrSecretUnavailable = errors.New("secret unavailable")

const (
	keyLength   = 32
	nonceLength = 16
)

// Provider resolves named secrets from the environment. A secret NAME is read
// from NAME_ENC (AES-256-GCM under the master key, checked against NAME_HASH
// when present) or, when no master key is configured, from plain NAME.
// Resolved values are cached for the process lifetime.
type Provider struct {
	masterKey []byte
	lookup    func(string) string

	mu    sync.Mutex
	cache map[string]string
}

func New(masterKeyHex string, lookup func(string) string) (*Provider, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	p := &Provider{lookup: lookup, cache: make(map[string]string)}
	if masterKeyHex != "" {
		key, err := hex.DecodeString(masterKeyHex)
		if err != nil || len(key) != keyLength {
			return nil, errors.New("master key must be 64 hex chars")
		}
		p.masterKey = key
	}
	return p, nil
}

func FromEnv() (*Provider, error) {
	return New(os.Getenv("ENCRYPTION_MASTER_KEY"), os.Getenv)
}

func (p *Provider) Get(name string) (string, error) {
	p.mu.Lock()
	if v, ok := p.cache[name]; ok {
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	value, err := p.resolve(name)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[name] = value
	p.mu.Unlock()
	return value, nil
}

func (p *Provider) resolve(name string) (string, error) {
	enc := p.lookup(name + "_ENC")
	if enc == "" {
		if v := p.lookup(name); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("%w: %s", ErrSecretUnavailable, name)
	}
	if p.masterKey == nil {
		return "", fmt.Errorf("%w: %s is encrypted but no master key is configured", ErrSecretUnavailable, name)
	}

	plain, err := Decrypt(enc, p.masterKey)
	if err != nil {
		return "", fmt.Errorf("%w: decrypt %s: %v", ErrSecretUnavailable, name, err)
	}
	if expected := p.lookup(name + "_HASH"); expected != "" && Hash(plain) != expected {
		return "", fmt.Errorf("%w: integrity check failed for %s", ErrSecretUnavailable, name)
	}
	return plain, nil
}

// Encrypt produces "ciphertext:nonce:tag" in hex, the format Decrypt and the
// credential tooling expect.
func Encrypt(plaintext string, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagAt := len(sealed) - gcm.Overhead()
	return strings.Join([]string{
		hex.EncodeToString(sealed[:tagAt]),
		hex.EncodeToString(nonce),
		hex.EncodeToString(sealed[tagAt:]),
	}, ":"), nil
}

func Decrypt(encoded string, key []byte) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", errors.New("invalid encrypted data format")
	}
	ciphertext, err1 := hex.DecodeString(parts[0])
	nonce, err2 := hex.DecodeString(parts[1])
	tag, err3 := hex.DecodeString(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return "", errors.New("invalid encrypted data format")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keyLength {
		return nil, errors.New("key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, nonceLength)
}
