package formats

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// levelNamespace scopes name-based level IDs.
var levelNamespace = uuid.MustParse("6f1b2c7e-4d0a-5e39-9b8f-2a7c41d3e5f0")

// Checksum returns the 64-bit xxHash of a compiled level. Clients compare it
// with the server's value instead of downloading the level.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// LevelID returns a stable identifier derived from the level contents.
func LevelID(data []byte) uuid.UUID {
	return uuid.NewSHA1(levelNamespace, data)
}
