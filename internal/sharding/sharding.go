// Package sharding maps entity ids onto a fixed set of partitions. The
// match cache uses it to pick a lock stripe per match id.
package sharding

import (
	"hash/crc32"
)

// DefaultStripes is the partition count used when the caller has no
// preference.
const DefaultStripes = 64

// Of returns the deterministic partition of entityID among n partitions.
// n <= 0 falls back to DefaultStripes.
func Of(entityID string, n int) int {
	if n <= 0 {
		n = DefaultStripes
	}
	checksum := crc32.ChecksumIEEE([]byte(entityID))
	return int(checksum % uint32(n))
}
