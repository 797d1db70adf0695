// Package idgen provides the identifier strategies used across the service:
// UUIDs for rooms, ULIDs for object keys, KSUIDs for bus events and NanoIDs
// for push sessions and instance ids.
package idgen

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/oklog/ulid/v2"
	"github.com/segmentio/ksuid"
)

// Generator produces unique string identifiers.
type Generator interface {
	Generate() (string, error)
	Validate(id string) bool
}

// Func adapts a plain function to Generator. Validate accepts any non-empty id.
type Func func() (string, error)

func (f Func) Generate() (string, error) { return f() }

func (f Func) Validate(id string) bool { return id != "" }

// UUIDGenerator generates UUID v4 ids.
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator { return &UUIDGenerator{} }

func (g *UUIDGenerator) Generate() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate UUID: %w", err)
	}
	return id.String(), nil
}

func (g *UUIDGenerator) Validate(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ULIDGenerator generates lexicographically sortable ids.
type ULIDGenerator struct{}

func NewULIDGenerator() *ULIDGenerator { return &ULIDGenerator{} }

func (g *ULIDGenerator) Generate() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

func (g *ULIDGenerator) Validate(id string) bool {
	if len(id) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// KSUIDGenerator generates k-sortable ids with second precision.
type KSUIDGenerator struct{}

func NewKSUIDGenerator() *KSUIDGenerator { return &KSUIDGenerator{} }

func (g *KSUIDGenerator) Generate() (string, error) {
	id, err := ksuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate KSUID: %w", err)
	}
	return id.String(), nil
}

func (g *KSUIDGenerator) Validate(id string) bool {
	_, err := ksuid.Parse(id)
	return err == nil
}

const (
	DefaultNanoIDSize     = 21
	DefaultNanoIDAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NanoIDGenerator generates short url-safe ids.
type NanoIDGenerator struct {
	size     int
	alphabet string
}

// NewNanoIDGenerator creates a NanoIDGenerator.
// size must be between 1 and 256. alphabet must have at least 2 characters.
func NewNanoIDGenerator(size int, alphabet string) (*NanoIDGenerator, error) {
	if size < 1 || size > 256 {
		return nil, fmt.Errorf("nanoid size must be between 1 and 256, got %d", size)
	}
	if len(alphabet) < 2 {
		return nil, fmt.Errorf("nanoid alphabet must have at least 2 characters, got %d", len(alphabet))
	}
	return &NanoIDGenerator{size: size, alphabet: alphabet}, nil
}

func (g *NanoIDGenerator) Generate() (string, error) {
	id, err := gonanoid.Generate(g.alphabet, g.size)
	if err != nil {
		return "", fmt.Errorf("failed to generate NanoID: %w", err)
	}
	return id, nil
}

func (g *NanoIDGenerator) Validate(id string) bool {
	if len(id) != g.size {
		return false
	}
	for _, r := range id {
		found := false
		for _, a := range g.alphabet {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MustNanoID returns a NanoIDGenerator with the default size and alphabet.
func MustNanoID() *NanoIDGenerator {
	g, err := NewNanoIDGenerator(DefaultNanoIDSize, DefaultNanoIDAlphabet)
	if err != nil {
		panic(err)
	}
	return g
}
