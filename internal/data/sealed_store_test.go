package data

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/booking-session/internal/data/cryptoutil"
	apperrors "github.com/target/booking-session/internal/errors"
	mockauth "github.com/target/booking-session/internal/mocks/auth"
)

func newSealed(t *testing.T) (*SealedStore, *mockauth.MemoryKVStore) {
	t.Helper()
	enc, err := cryptoutil.NewAESGCMEncryptor(make([]byte, 32))
	require.NoError(t, err)
	inner := mockauth.NewMemoryKVStore()
	return NewSealedStore(inner, enc), inner
}

func TestSealedStoreEncryptsAtRest(t *testing.T) {
	s, inner := newSealed(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "refresh_token", "r-1"))

	raw, err := inner.Get(ctx, "refresh_token")
	require.NoError(t, err)
	assert.NotEqual(t, "r-1", raw)

	got, err := s.Get(ctx, "refresh_token")
	require.NoError(t, err)
	assert.Equal(t, "r-1", got)
}

func TestSealedStoreReadsPlaintextLegacyValue(t *testing.T) {
	s, inner := newSealed(t)
	ctx := context.Background()

	require.NoError(t, inner.Set(ctx, "active_role", "1"))
	got, err := s.Get(ctx, "active_role")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestSealedStorePassesThroughNotFoundAndDelete(t *testing.T) {
	s, _ := newSealed(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "refresh_token")
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, s.Set(ctx, "refresh_token", "r"))
	require.NoError(t, s.Delete(ctx, "refresh_token"))
	_, err = s.Get(ctx, "refresh_token")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSealedStoreTamperedValue(t *testing.T) {
	s, inner := newSealed(t)
	ctx := context.Background()

	require.NoError(t, inner.Set(ctx, "refresh_token", "v1:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"))
	_, err := s.Get(ctx, "refresh_token")
	require.Error(t, err)
	assert.True(t, apperrors.IsInternal(err))
}
