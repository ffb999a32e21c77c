package encryption

import (
	"fmt"

	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

// NewEncryptorFromConfig returns the configured Encryptor, or nil when
// artifacts are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (recovery.Encryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewStubEncryptor(""), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
