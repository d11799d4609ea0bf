package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runhawk/engine/internal/util"
)

func TestSetOf(t *testing.T) {
	s := util.SetOf("a", "b", "a")

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains("a"))
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("c"))
}

func TestSetAddRemove(t *testing.T) {
	s := util.Set[int]{}
	assert.True(t, s.IsEmpty())

	s.Add(1)
	s.Add(2)
	s.Add(1)
	assert.Equal(t, 2, s.Len())

	s.Remove(1)
	assert.False(t, s.Contains(1))
	assert.True(t, s.Contains(2))

	s.Remove(99)
	assert.Equal(t, 1, s.Len())
}
