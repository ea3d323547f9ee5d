package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectsWithDefaults(t *testing.T) {
	assert.Equal(t, Subjects{Updates: "updates", Score: "score"}, Subjects{}.withDefaults())
	assert.Equal(t, Subjects{Updates: "u.1", Score: "score"}, Subjects{Updates: "u.1"}.withDefaults())
	assert.Equal(t, Subjects{Updates: "a", Score: "b"}, Subjects{Updates: "a", Score: "b"}.withDefaults())
}
