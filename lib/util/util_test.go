package util

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestClosersReverseOrderAndJoinedErrors(t *testing.T) {
	var order []int
	boom := errors.New("boom")
	var cs Closers
	cs.Register(closerFunc(func() error { order = append(order, 1); return nil }))
	cs.Register(closerFunc(func() error { order = append(order, 2); return boom }))
	cs.Register(closerFunc(func() error { order = append(order, 3); return nil }))

	err := cs.Close()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{3, 2, 1}, order)

	assert.NoError(t, cs.Close(), "second close has nothing to do")
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestUserHomeNotEmpty(t *testing.T) {
	assert.NotEmpty(t, UserHome())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "missing")))
}
