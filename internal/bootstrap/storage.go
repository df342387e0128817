package bootstrap

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/booking-session/config"
	"github.com/target/booking-session/internal/adapters/filestore"
	redisadapter "github.com/target/booking-session/internal/adapters/redis"
	"github.com/target/booking-session/internal/data"
	"github.com/target/booking-session/internal/data/cryptoutil"
	"github.com/target/booking-session/internal/ports"
)

// StorageDeps groups what the durable session store may be built on.
// DB and RedisClient are only consulted by their matching backends.
type StorageDeps struct {
	Config      config.StorageConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// BuildSessionStore selects the key-value backend for the refresh token and
// active role, and seals values at rest when an encryption key is configured.
//
//nolint:ireturn // the backend is chosen at runtime.
func BuildSessionStore(deps StorageDeps) (ports.KeyValueStore, error) {
	var (
		store ports.KeyValueStore
		desc  string
	)

	switch deps.Config.Backend {
	case config.StorageBackendRedis:
		if deps.RedisClient == nil {
			return nil, errors.New("redis storage backend requires a redis client")
		}
		store = redisadapter.NewKVStoreWithPrefix(deps.RedisClient, deps.Config.KeyPrefix)
		desc = "redis"
	case config.StorageBackendPostgres:
		if deps.DB == nil {
			return nil, errors.New("postgres storage backend requires a database")
		}
		store = data.NewSessionKVRepo(deps.DB, deps.Config.KeyPrefix)
		desc = "postgres"
	case config.StorageBackendFile, "":
		fs, err := filestore.New(deps.Config.FilePath, deps.Config.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("open session file: %w", err)
		}
		store = fs
		desc = "file:" + fs.Path()
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", deps.Config.Backend)
	}

	enc, err := CreateEncryptor(deps.Config.EncryptionKey)
	if err != nil {
		return nil, err
	}
	sealed := enc != nil
	if sealed {
		store = data.NewSealedStore(store, enc)
	}

	if deps.Logger != nil {
		deps.Logger.Info("session storage ready", "backend", desc, "sealed", sealed)
	}
	return store, nil
}

// CreateEncryptor builds the at-rest encryptor from key. A 64-character hex key
// is used as-is; any other non-empty key is hashed to 32 bytes. An empty key
// yields a nil encryptor and no error.
func CreateEncryptor(key string) (*cryptoutil.AESGCMEncryptor, error) {
	if key == "" {
		return nil, nil
	}

	var keyBytes []byte
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		keyBytes = decoded
	} else {
		hash := sha256.Sum256([]byte(key))
		keyBytes = hash[:]
	}

	enc, err := cryptoutil.NewAESGCMEncryptor(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("create storage encryptor: %w", err)
	}
	return enc, nil
}
