package x608

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// GenerateID returns a prefixed unique identifier, e.g. "x608_7f3a...".
// The random portion is a UUIDv4 with the dashes stripped.
func GenerateID(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "_" + random
}

// GenerateContentHash computes the tagged digest of content used for escrow
// verification. The format is algorithm-prefixed hex: "sha256-<hex>".
func GenerateContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return "sha256-" + hex.EncodeToString(sum[:])
}

// VerifyContentHash reports whether content hashes to expected.
func VerifyContentHash(content []byte, expected string) bool {
	return GenerateContentHash(content) == expected
}
