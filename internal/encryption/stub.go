package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"wal-recover/internal/recovery"
)

// stubMagic prefixes everything StubEncryptor "encrypts".
var stubMagic = []byte("WALSTUB1")

// StubEncryptor is a deterministic, reversible stand-in for AgeEncryptor.
// Ciphertext is stubMagic followed by the plaintext, which keeps fetched and
// archived sizes predictable in tests.
type StubEncryptor struct {
	passphrase string
}

var _ recovery.Encryptor = (*StubEncryptor)(nil)

// NewStubEncryptor creates a StubEncryptor. An empty passphrase accepts any
// passphrase on Unlock.
func NewStubEncryptor(passphrase string) *StubEncryptor {
	return &StubEncryptor{passphrase: passphrase}
}

// Overhead is the number of bytes StubEncryptor adds to a plaintext.
func (e *StubEncryptor) Overhead() int { return len(stubMagic) }

func (e *StubEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *StubEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(stubMagic), r)); err != nil {
		return fmt.Errorf("stub encrypt: %w", err)
	}
	return nil
}

func (e *StubEncryptor) Unlock(passphrase string) (recovery.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, errors.New("stub unlock: wrong passphrase")
	}
	return stubDecryption{}, nil
}

func (e *StubEncryptor) IsConfigured() bool { return true }

type stubDecryption struct{}

func (stubDecryption) Decrypt(r io.Reader, w io.Writer) error {
	head := make([]byte, len(stubMagic))
	if _, err := io.ReadFull(r, head); err != nil {
		return fmt.Errorf("stub decrypt: reading header: %w", err)
	}
	if !bytes.Equal(head, stubMagic) {
		return errors.New("stub decrypt: not a stub ciphertext")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("stub decrypt: %w", err)
	}
	return nil
}
