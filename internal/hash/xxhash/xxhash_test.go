package xxhash_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lenscrawl/internal/hash/xxhash"
)

func TestHasherDistinguishesContent(t *testing.T) {
	t.Parallel()

	h := xxhash.New()
	a, err := h.Hash([]byte("page body"))
	require.NoError(t, err)
	again, err := h.Hash([]byte("page body"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("page body!"))
	require.NoError(t, err)

	require.Equal(t, a, again)
	require.NotEqual(t, a, b)
	require.Equal(t, "ef46db3751d8e999", mustHash(t, h, nil))
}

func mustHash(t *testing.T, h *xxhash.Hasher, data []byte) string {
	t.Helper()
	s, err := h.Hash(data)
	require.NoError(t, err)
	return s
}
