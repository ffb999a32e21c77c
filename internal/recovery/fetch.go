package recovery

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultFileMode is the mode fetched artifacts are normalized to so the
// store engine can open them regardless of the creating umask.
const DefaultFileMode os.FileMode = 0o644

// encryptedSuffix marks the ciphertext staged next to the destination while
// an encrypted artifact is being fetched.
const encryptedSuffix = ".enc"

// Artifact describes one remote object to fetch. ExpectedSize of 0 means
// the size is taken from the object store before the transfer.
type Artifact struct {
	Bucket       string
	Key          string
	Dest         string
	ExpectedSize int64
}

func (a Artifact) String() string {
	return a.Bucket + "/" + a.Key
}

// FetchStats reports a completed transfer.
type FetchStats struct {
	Bytes    int64
	Duration time.Duration
}

// FetchConfig holds Fetcher settings.
type FetchConfig struct {
	// FileMode is applied to the fetched file. Zero means DefaultFileMode.
	FileMode os.FileMode
	// SettleDelay is slept after the file is synced, to absorb
	// eventual-consistency lag in the backing store. Zero disables it.
	SettleDelay time.Duration
	// Decryptor, when set, treats the remote object as ciphertext.
	Decryptor DecryptionContext
}

// Fetcher downloads a single artifact and validates it. It never retries;
// retry policy belongs to the Session.
type Fetcher struct {
	store  ObjectStore
	cfg    FetchConfig
	clock  Clock
	logger Logger
}

// NewFetcher creates a Fetcher reading from store.
func NewFetcher(store ObjectStore, cfg FetchConfig, clock Clock, logger Logger) *Fetcher {
	if cfg.FileMode == 0 {
		cfg.FileMode = DefaultFileMode
	}
	return &Fetcher{store: store, cfg: cfg, clock: clock, logger: logger}
}

// Fetch downloads a to a.Dest, overwriting anything there. On success the
// file has the configured mode and its data is on stable storage. On any
// failure the destination is removed so it can never be applied.
func (f *Fetcher) Fetch(ctx context.Context, a Artifact) (FetchStats, error) {
	start := f.clock.Now()
	var stats FetchStats

	expected := a.ExpectedSize
	if expected <= 0 {
		size, err := f.store.Size(ctx, a.Bucket, a.Key)
		if err != nil {
			return stats, newPhaseError(PhaseFetch, ErrRemoteFetch, fmt.Errorf("stat %s: %w", a, err))
		}
		expected = size
	}

	target := a.Dest
	if f.cfg.Decryptor != nil {
		target = a.Dest + encryptedSuffix
		defer os.Remove(target)
	}

	n, err := f.download(ctx, a, target, expected)
	if err != nil {
		os.Remove(target)
		return stats, err
	}
	stats.Bytes = n

	if f.cfg.Decryptor != nil {
		if err := f.decrypt(target, a.Dest); err != nil {
			os.Remove(a.Dest)
			return stats, newPhaseError(PhaseFetch, ErrTransferIntegrity, fmt.Errorf("decrypting %s: %w", a, err))
		}
	}

	if f.cfg.SettleDelay > 0 {
		f.logger.Debug("settling after fetch", "delay", f.cfg.SettleDelay)
		if err := f.clock.Sleep(ctx, f.cfg.SettleDelay); err != nil {
			os.Remove(a.Dest)
			return stats, newPhaseError(PhaseFetch, ErrRemoteFetch, fmt.Errorf("settling after %s: %w", a, err))
		}
	}

	stats.Duration = f.clock.Now().Sub(start)
	f.logger.Info("artifact fetched",
		"source", a.String(),
		"dest", a.Dest,
		"bytes", n,
		"duration", stats.Duration,
	)
	return stats, nil
}

// download writes the object into path and checks the byte count against
// expected.
func (f *Fetcher) download(ctx context.Context, a Artifact, path string, expected int64) (int64, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.cfg.FileMode)
	if err != nil {
		return 0, newPhaseError(PhaseFetch, ErrRemoteFetch, fmt.Errorf("creating %s: %w", path, err))
	}

	n, err := f.store.Get(ctx, a.Bucket, a.Key, file)
	if err != nil {
		file.Close()
		return n, newPhaseError(PhaseFetch, ErrRemoteFetch, fmt.Errorf("downloading %s: %w", a, err))
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return n, newPhaseError(PhaseFetch, ErrRemoteFetch, fmt.Errorf("stat %s: %w", path, err))
	}
	if n != expected || info.Size() != expected {
		file.Close()
		f.logger.Error("size mismatch", "source", a.String(), "remote", expected, "local", info.Size())
		return n, newPhaseError(PhaseFetch, ErrTransferIntegrity,
			fmt.Errorf("size mismatch for %s: remote %d bytes, local %d bytes", a, expected, info.Size()))
	}

	if err := f.finalize(file); err != nil {
		return n, newPhaseError(PhaseFetch, ErrRemoteFetch, err)
	}
	return n, nil
}

// decrypt turns the staged ciphertext at src into plaintext at dest.
func (f *Fetcher) decrypt(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening ciphertext: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.cfg.FileMode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if err := f.cfg.Decryptor.Decrypt(in, out); err != nil {
		out.Close()
		return err
	}
	return f.finalize(out)
}

// finalize normalizes permissions, forces the data to disk and closes file.
func (f *Fetcher) finalize(file *os.File) error {
	if err := file.Chmod(f.cfg.FileMode); err != nil {
		file.Close()
		return fmt.Errorf("setting permissions on %s: %w", file.Name(), err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing %s: %w", file.Name(), err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", file.Name(), err)
	}
	return nil
}
