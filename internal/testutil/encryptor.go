package testutil

import (
	"wal-recover/internal/encryption"
)

// NewTestEncryptor returns a deterministic encryptor that accepts any
// passphrase.
func NewTestEncryptor() *encryption.StubEncryptor {
	return encryption.NewStubEncryptor("")
}
