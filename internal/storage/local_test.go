package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key, err := l.Put(ctx, "uploads", []byte("%PDF-1.7 test"), "application/pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(key, ".pdf"), "key should carry pdf extension: %s", key)

	data, err := l.Get(ctx, "uploads", key)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7 test", string(data))

	require.NoError(t, l.Delete(ctx, "uploads", key))
	_, err = l.Get(ctx, "uploads", key)
	assert.True(t, errors.Is(err, ErrNotFound))

	// 2回目の削除はエラーにならない
	require.NoError(t, l.Delete(ctx, "uploads", key))
}

func TestLocalKeysAreUnique(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	a, err := l.Put(ctx, "processed", []byte("a"), "")
	require.NoError(t, err)
	b, err := l.Put(ctx, "processed", []byte("a"), "")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLocalRejectsTraversal(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = l.Get(context.Background(), "uploads", "../secret")
	assert.Error(t, err)
}
