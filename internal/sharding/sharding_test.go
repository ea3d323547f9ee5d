package sharding

import (
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	tests := []struct {
		entityID string
		n        int
		want     int
	}{
		{"match-1", 64, 11},
		{"match-2", 64, 49},
		{"match-2", 1024, 433},
		{"m-abc", 0, 18}, // falls back to DefaultStripes
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.entityID, tt.n), func(t *testing.T) {
			if got := Of(tt.entityID, tt.n); got != tt.want {
				t.Errorf("Of(%q, %d) = %v, want %v", tt.entityID, tt.n, got, tt.want)
			}
		})
	}
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	if a, b := Of(id, 16), Of(id, 16); a != b {
		t.Errorf("Sharding is not deterministic! %d != %d", a, b)
	}
}

func TestDistribution(t *testing.T) {
	// Rough check to ensure we don't map everything to one stripe
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[Of(fmt.Sprintf("match-%d", i), DefaultStripes)]++
	}

	if len(distribution) < DefaultStripes/2 {
		t.Errorf("Sharding distribution is too poor. Only %d unique stripes used for 1000 keys", len(distribution))
	}
}
