package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreGetMissingKeyIsEmptyString(t *testing.T) {
	s := New()
	assert.Equal(t, "", s.Get("absent"))
}

func TestStorePutThenGet(t *testing.T) {
	s := New()
	s.Put("x", "1")
	assert.Equal(t, "1", s.Get("x"))

	s.Put("x", "2")
	assert.Equal(t, "2", s.Get("x"), "Put overwrites the previous value")
}

func TestStoreIsIndependentPerKey(t *testing.T) {
	s := New()
	s.Put("a", "1")
	s.Put("b", "2")
	assert.Equal(t, "1", s.Get("a"))
	assert.Equal(t, "2", s.Get("b"))
}
