package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StorageBackend selects where the refresh token and active role are persisted.
type StorageBackend string

const (
	// StorageBackendFile persists to a JSON file in the user's home directory.
	StorageBackendFile StorageBackend = "file"
	// StorageBackendRedis persists to Redis.
	StorageBackendRedis StorageBackend = "redis"
	// StorageBackendPostgres persists to the session_kv table.
	StorageBackendPostgres StorageBackend = "postgres"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageBackend.
func (b *StorageBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "file", "redis", "postgres":
		*b = StorageBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageBackend: %q (valid options: file, redis, postgres)", v)
	}
}

const defaultStorageFile = ".booking/session.json"

// StorageConfig controls durable session storage.
type StorageConfig struct {
	Backend StorageBackend `env:"STORAGE_BACKEND" envDefault:"file"`

	// FilePath is used by the file backend. Defaults to ~/.booking/session.json.
	FilePath string `env:"STORAGE_FILE_PATH"`

	// KeyPrefix namespaces keys in shared backends.
	KeyPrefix string `env:"STORAGE_KEY_PREFIX" envDefault:"booking-session:"`

	// EncryptionKey seals stored values with AES-256-GCM. A 64-char hex string is
	// used as-is; any other value is hashed to 32 bytes. Empty stores plaintext.
	EncryptionKey string `env:"STORAGE_ENCRYPTION_KEY"`
}

// Sanitize resolves the default file path.
func (c *StorageConfig) Sanitize() {
	c.FilePath = strings.TrimSpace(c.FilePath)
	if c.FilePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.FilePath = filepath.Join(home, defaultStorageFile)
		} else {
			c.FilePath = defaultStorageFile
		}
	}
	if strings.HasPrefix(c.FilePath, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			c.FilePath = filepath.Join(home, c.FilePath[2:])
		}
	}
}
