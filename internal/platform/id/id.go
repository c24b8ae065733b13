// Package id generates identifiers for rooms, records, and nodes.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"os"
	"strings"
)

// roomAlphabet is a crockford-like set: lowercase, no i/l/o/u, so room codes
// survive being read aloud or typed from a screenshot.
const roomAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// RoomIDLength is the number of characters in a room identifier.
const RoomIDLength = 6

// NewRoomID generates a short printable room identifier.
func NewRoomID() (string, error) {
	var raw [RoomIDLength]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	var sb strings.Builder
	sb.Grow(RoomIDLength)
	for _, b := range raw {
		sb.WriteByte(roomAlphabet[int(b)&31])
	}
	return sb.String(), nil
}

// NewID generates a URL-safe identifier using UUIDv4 bytes encoded as base32.
// The identifier is 26 characters long, lowercase, and contains no padding.
func NewID() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	// RFC 4122 variant and version bits for a v4 UUID.
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:])
	return strings.ToLower(encoded), nil
}

// NodeID returns an identity for this process, used as the lock owner value
// so expired locks can be traced back to the node that held them.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	suffix, err := NewRoomID()
	if err != nil {
		suffix = fmt.Sprintf("%d", os.Getpid())
	}
	return host + "-" + suffix
}
