package data

import (
	"context"
	"errors"

	"github.com/target/booking-session/internal/data/cryptoutil"
	apperrors "github.com/target/booking-session/internal/errors"
	"github.com/target/booking-session/internal/ports"
)

// SealedStore encrypts values before they reach another KeyValueStore.
// Values written before sealing was enabled are returned as stored.
type SealedStore struct {
	inner ports.KeyValueStore
	enc   cryptoutil.Encryptor
}

var _ ports.KeyValueStore = (*SealedStore)(nil)

// NewSealedStore wraps inner with enc.
func NewSealedStore(inner ports.KeyValueStore, enc cryptoutil.Encryptor) *SealedStore {
	return &SealedStore{inner: inner, enc: enc}
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	pt, err := s.enc.Decrypt(raw)
	if errors.Is(err, cryptoutil.ErrUnsealed) {
		return raw, nil
	}
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInternal, "open stored value")
	}
	return string(pt), nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.enc.Encrypt([]byte(value))
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "seal stored value")
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
