// Package mocks provides gomock implementations of the session ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	provider := mocks.NewMockIdentityProvider(ctrl)
//	provider.EXPECT().Refresh(gomock.Any(), "r1").Return(ports.TokenSet{AccessToken: "a2"}, nil)
package mocks

// MockIdentityProvider: SignUp, SignIn, SignOut, Refresh
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=identity_provider_mock.go github.com/target/booking-session/internal/ports IdentityProvider

// MockKeyValueStore: Get, Set, Delete
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=key_value_store_mock.go github.com/target/booking-session/internal/ports KeyValueStore
