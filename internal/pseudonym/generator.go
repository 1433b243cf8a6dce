// Package pseudonym mints the opaque correlation keys that link an identity
// record to its clinical counterpart.
//
// A pseudonym reveals nothing about the person it stands for. It is minted
// exactly once, when an entity is created, and then travels with the entity
// for its whole lifetime.
package pseudonym

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	uuidPrefix  = "psn_"
	keyedPrefix = "psk_"

	randomBytes = 16
	macBytes    = 10
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// UUIDGenerator mints random v4 UUID pseudonyms.
type UUIDGenerator struct{}

// NewUUID returns a generator that needs no key material.
func NewUUID() UUIDGenerator {
	return UUIDGenerator{}
}

func (UUIDGenerator) Generate() (string, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate pseudonym: %w", err)
	}
	return uuidPrefix + u.String(), nil
}

func (UUIDGenerator) Validate(p string) bool {
	raw, ok := strings.CutPrefix(p, uuidPrefix)
	if !ok {
		return false
	}
	u, err := uuid.Parse(raw)
	return err == nil && u.Version() == 4
}

// KeyedGenerator mints random pseudonyms carrying a keyed BLAKE2b tag, so
// Validate rejects values that were not minted with the same key.
type KeyedGenerator struct {
	key []byte
}

// NewKeyed builds a KeyedGenerator. The key must be 16 to 64 bytes.
func NewKeyed(key []byte) (*KeyedGenerator, error) {
	if len(key) < 16 || len(key) > blake2b.Size {
		return nil, errors.New("pseudonym key must be between 16 and 64 bytes")
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &KeyedGenerator{key: k}, nil
}

func (g *KeyedGenerator) Generate() (string, error) {
	body := make([]byte, randomBytes)
	if _, err := rand.Read(body); err != nil {
		return "", fmt.Errorf("generate pseudonym: %w", err)
	}
	tag, err := g.tag(body)
	if err != nil {
		return "", err
	}
	return keyedPrefix + strings.ToLower(encoding.EncodeToString(body)) + "." +
		strings.ToLower(encoding.EncodeToString(tag)), nil
}

func (g *KeyedGenerator) Validate(p string) bool {
	raw, ok := strings.CutPrefix(p, keyedPrefix)
	if !ok {
		return false
	}
	bodyEnc, tagEnc, ok := strings.Cut(raw, ".")
	if !ok {
		return false
	}
	body, err := encoding.DecodeString(strings.ToUpper(bodyEnc))
	if err != nil || len(body) != randomBytes {
		return false
	}
	tag, err := encoding.DecodeString(strings.ToUpper(tagEnc))
	if err != nil {
		return false
	}
	want, err := g.tag(body)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(tag, want) == 1
}

func (g *KeyedGenerator) tag(body []byte) ([]byte, error) {
	h, err := blake2b.New(macBytes, g.key)
	if err != nil {
		return nil, fmt.Errorf("init pseudonym mac: %w", err)
	}
	h.Write(body)
	return h.Sum(nil), nil
}
