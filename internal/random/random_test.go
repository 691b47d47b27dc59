package random

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCryptoRandom_Ranges(t *testing.T) {
	r := New()
	for i := 0; i < 200; i++ {
		n := r.Intn(10)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 10)

		f := r.Float64()
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
	assert.Equal(t, 0, r.Intn(0))
}

func TestCryptoRandom_StringUsesAlphabet(t *testing.T) {
	s := New().String(32, "AB")
	assert.Len(t, s, 32)
	assert.Empty(t, strings.Trim(s, "AB"))
	assert.Empty(t, New().String(0, "AB"))
}

func TestMock_Queues(t *testing.T) {
	m := NewMock()
	m.QueueIntn(3, 7)
	m.QueueFloat64(0.25)
	m.QueueString("ABCD")

	assert.Equal(t, 3, m.Intn(10))
	assert.Equal(t, 7, m.Intn(10))
	assert.Equal(t, 0, m.Intn(10))

	assert.Equal(t, 0.25, m.Float64())
	assert.Equal(t, m.Fallback, m.Float64())

	assert.Equal(t, "ABCD", m.String(4, "x"))
	assert.Equal(t, "", m.String(4, "x"))
}
