// Package codec serializes fixed-size game states into versioned binary
// records.
//
// The wire form is [version:u8][size:u32 little-endian][state-bytes]. The
// (version, size) pair is a self-describing schema token: when it matches
// the current state layout the payload is copied directly, otherwise the
// pair selects a registered migration. Records that match neither are
// rejected as corrupt.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"

	apperrors "github.com/louisbranch/parlor/internal/errors"
)

// headerSize is the length of the version+size prefix.
const headerSize = 5

// Migration upgrades a persisted state payload from an older layout to the
// current one. It receives only the state bytes, without the header.
type Migration[S any] func(data []byte) (S, error)

type migrationKey struct {
	version uint8
	size    uint32
}

// Codec encodes and decodes one state type at a fixed version. Migrations
// for older (version, size) layouts are register-only.
type Codec[S any] struct {
	version uint8
	size    int

	mu         sync.RWMutex
	migrations map[migrationKey]Migration[S]
}

// New builds a codec for S at the given version. S must have a fixed
// binary size (no slices, maps, or strings).
func New[S any](version uint8) (*Codec[S], error) {
	var zero S
	size := binary.Size(zero)
	if size <= 0 {
		return nil, fmt.Errorf("codec: state type %T is not fixed size", zero)
	}

	return &Codec[S]{
		version:    version,
		size:       size,
		migrations: make(map[migrationKey]Migration[S]),
	}, nil
}

// MustNew is New for package-level codec variables; it panics on error.
func MustNew[S any](version uint8) *Codec[S] {
	c, err := New[S](version)
	if err != nil {
		panic(err)
	}

	return c
}

// Version returns the version byte written on encoded records.
func (c *Codec[S]) Version() uint8 { return c.version }

// Size returns the binary size of the current state layout.
func (c *Codec[S]) Size() int { return c.size }

// RegisterMigration installs an upgrade path for records written with the
// given version and payload size. Registering the same pair twice replaces
// the earlier migration; there is no de-registration.
func (c *Codec[S]) RegisterMigration(version uint8, size uint32, m Migration[S]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.migrations[migrationKey{version: version, size: size}] = m
}

func (c *Codec[S]) migration(version uint8, size uint32) (Migration[S], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.migrations[migrationKey{version: version, size: size}]

	return m, ok
}

// Encode serializes state into a versioned record.
func (c *Codec[S]) Encode(state S) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+c.size))
	buf.WriteByte(c.version)

	var sizeBytes [4]byte
	binary.LittleEndian.PutUint32(sizeBytes[:], uint32(c.size))
	buf.Write(sizeBytes[:])

	if err := binary.Write(buf, binary.LittleEndian, state); err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode parses a versioned record. Records shorter than the header, with
// a payload length that disagrees with the size field, or with an unknown
// (version, size) pair fail with a corrupt-state error.
func (c *Codec[S]) Decode(data []byte) (S, error) {
	var state S

	if len(data) < headerSize {
		return state, apperrors.WithMetadata(apperrors.CodeCorrupt, "state record shorter than header", map[string]string{
			"length": strconv.Itoa(len(data)),
		})
	}

	version := data[0]
	size := binary.LittleEndian.Uint32(data[1:headerSize])
	body := data[headerSize:]

	if uint32(len(body)) != size {
		return state, apperrors.WithMetadata(apperrors.CodeCorrupt, "state record size mismatch", map[string]string{
			"declared": strconv.FormatUint(uint64(size), 10),
			"actual":   strconv.Itoa(len(body)),
		})
	}

	if version == c.version && int(size) == c.size {
		if err := binary.Read(bytes.NewReader(body), binary.LittleEndian, &state); err != nil {
			return state, apperrors.Wrap(apperrors.CodeCorrupt, "decode state", err)
		}

		return state, nil
	}

	migrate, ok := c.migration(version, size)
	if !ok {
		return state, apperrors.WithMetadata(apperrors.CodeCorrupt, "no migration for state record", map[string]string{
			"version": strconv.FormatUint(uint64(version), 10),
			"size":    strconv.FormatUint(uint64(size), 10),
		})
	}

	migrated, err := migrate(body)
	if err != nil {
		return state, apperrors.WrapWithMetadata(apperrors.CodeCorrupt, "migrate state record", map[string]string{
			"version": strconv.FormatUint(uint64(version), 10),
			"size":    strconv.FormatUint(uint64(size), 10),
		}, err)
	}

	return migrated, nil
}
