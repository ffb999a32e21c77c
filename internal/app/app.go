package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"wal-recover/internal/config"
	"wal-recover/internal/encryption"
	"wal-recover/internal/journal"
	"wal-recover/internal/objectstore"
	"wal-recover/internal/recovery"
	"wal-recover/internal/sqlite"
)

// ErrEncryptionDisabled is returned by key operations when no encryption
// type is configured.
var ErrEncryptionDisabled = errors.New("encryption is not enabled in config")

// App is the application layer between the CLI and the recovery package.
// It constructs all dependencies from config, exposes one method per
// command and records every recovery session in the journal.
type App struct {
	cfg       *config.Config
	store     recovery.ObjectStore
	encryptor recovery.Encryptor // nil when artifacts are plaintext
	journal   recovery.Journal
	engine    *sqlite.Engine
	cleaner   *recovery.Cleaner
	clock     recovery.Clock
	idgen     recovery.IDGenerator
	logger    recovery.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from cfg. Records at or above
// stderrLevel are also echoed to stderr. The caller must call Close.
func NewApp(ctx context.Context, cfg *config.Config, stderrLevel slog.Level) (*App, error) {
	store, err := objectstore.NewObjectStoreFromConfig(ctx, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	j, err := journal.NewJournalFromConfig(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	idgen := recovery.UUIDGenerator{}
	logger, logFile, err := newLogger(cfg.LogDir, idgen.New(), stderrLevel)
	if err != nil {
		j.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	log := &slogAdapter{l: logger}
	return &App{
		cfg:       cfg,
		store:     store,
		encryptor: enc,
		journal:   j,
		engine:    sqlite.NewEngine(),
		cleaner:   recovery.NewCleaner(log),
		clock:     recovery.RealClock{},
		idgen:     idgen,
		logger:    log,
		logFile:   logFile,
	}, nil
}

// EncryptionEnabled reports whether artifacts are encrypted, in which case
// Recover needs a passphrase.
func (a *App) EncryptionEnabled() bool {
	return a.encryptor != nil
}

// SetupKeys generates the encryption key pair, sealing the private key with
// passphrase.
func (a *App) SetupKeys(passphrase string) error {
	if a.encryptor == nil {
		return ErrEncryptionDisabled
	}
	if err := a.encryptor.Setup(passphrase); err != nil {
		return fmt.Errorf("setting up keys: %w", err)
	}
	a.logger.Info("encryption keys created",
		"public_key", a.cfg.Encryption.PublicKeyPath,
		"private_key", a.cfg.Encryption.PrivateKeyPath,
	)
	return nil
}

// RecoverRequest selects what one recovery session restores. Empty fields
// fall back to the config.
type RecoverRequest struct {
	Strategy   recovery.StrategyKind
	Key        string
	Bucket     string
	LogPath    string // replay only
	SkipVerify bool
	Passphrase string // read only when encryption is enabled
}

// Recover runs one recovery session and records it in the journal. A
// session that fails is reported through the Result; the returned error
// covers setup problems and journal failures only.
func (a *App) Recover(ctx context.Context, req RecoverRequest) (*recovery.Result, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if req.Key == "" {
		return nil, errors.New("artifact key is required")
	}
	bucket := cmp.Or(req.Bucket, a.cfg.Source.Bucket)
	if bucket == "" {
		return nil, errors.New("no bucket given and source.bucket is not set")
	}

	rc := a.cfg.Recovery
	backoff, _ := rc.RetryBackoffDuration()
	settle, _ := rc.SettleDelayDuration()
	mode, _ := rc.Mode()
	policy, err := recovery.ParseAmbiguousPolicy(rc.AmbiguousPolicy)
	if err != nil {
		return nil, err
	}

	strategy, err := a.strategy(req.Strategy, req.LogPath)
	if err != nil {
		return nil, err
	}

	fetchCfg := recovery.FetchConfig{FileMode: mode, SettleDelay: settle}
	if a.encryptor != nil {
		dc, err := a.encryptor.Unlock(req.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlocking private key: %w", err)
		}
		fetchCfg.Decryptor = dc
	}

	deps := recovery.Deps{
		Fetcher:  recovery.NewFetcher(a.store, fetchCfg, a.clock, a.logger),
		Strategy: strategy,
		Cleaner:  a.cleaner,
		Clock:    a.clock,
		IDGen:    a.idgen,
		Logger:   a.logger,
	}
	if !req.SkipVerify && !rc.SkipVerify {
		deps.Verifier = a.verifier()
	}

	opts := recovery.Options{
		Bucket:          bucket,
		Key:             req.Key,
		StorePath:       a.cfg.Store.Path,
		FetchAttempts:   rc.FetchAttempts,
		RetryBackoff:    backoff,
		AmbiguousPolicy: policy,
	}
	res := recovery.NewSession(opts, deps).Run(ctx)

	if err := a.journal.RecordSession(recovery.NewSessionRecord(res)); err != nil {
		return res, fmt.Errorf("recording session: %w", err)
	}
	return res, nil
}

// Verify runs the integrity verifier against the configured store.
func (a *App) Verify(ctx context.Context) (*recovery.Verdict, error) {
	path, err := a.storePath()
	if err != nil {
		return nil, err
	}
	return a.verifier().Verify(ctx, path)
}

// Clean removes the store's side log and shared-memory index. It returns
// the paths that were present before cleaning, plus any removal warnings.
func (a *App) Clean() ([]string, []recovery.Warning, error) {
	path, err := a.storePath()
	if err != nil {
		return nil, nil, err
	}
	residue := recovery.ResiduePaths(path)
	found := a.cleaner.Leftovers(residue...)
	return found, a.cleaner.Clean(residue...), nil
}

// Reconcile resolves a backup left behind by an interrupted session for the
// log path kind would use.
func (a *App) Reconcile(kind recovery.StrategyKind, logPath string) (recovery.GuardOutcome, []recovery.Warning, error) {
	path, err := a.storePath()
	if err != nil {
		return "", nil, err
	}
	policy, err := recovery.ParseAmbiguousPolicy(a.cfg.Recovery.AmbiguousPolicy)
	if err != nil {
		return "", nil, err
	}
	strategy, err := a.strategy(kind, logPath)
	if err != nil {
		return "", nil, err
	}
	outcome, warnings := recovery.Reconcile(strategy.LogPath(path), policy, a.logger)
	return outcome, warnings, nil
}

// ArchiveRequest names a local log to upload.
type ArchiveRequest struct {
	Key    string
	Bucket string
	Path   string // empty: the store's side log
}

// Archive uploads a local log to the object store, encrypting it first when
// encryption is enabled. It returns the number of bytes stored.
func (a *App) Archive(ctx context.Context, req ArchiveRequest) (int64, error) {
	if req.Key == "" {
		return 0, errors.New("artifact key is required")
	}
	bucket := cmp.Or(req.Bucket, a.cfg.Source.Bucket)
	if bucket == "" {
		return 0, errors.New("no bucket given and source.bucket is not set")
	}
	src := req.Path
	if src == "" {
		path, err := a.storePath()
		if err != nil {
			return 0, err
		}
		src = recovery.WALPath(path)
	}

	f, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	upload := f
	if a.encryptor != nil {
		tmp, err := a.encryptToTemp(f)
		if err != nil {
			return 0, err
		}
		defer os.Remove(tmp.Name())
		defer tmp.Close()
		upload = tmp
	}

	info, err := upload.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", upload.Name(), err)
	}
	if err := a.store.Put(ctx, bucket, req.Key, upload, info.Size()); err != nil {
		return 0, fmt.Errorf("uploading %s: %w", src, err)
	}

	a.logger.Info("log archived",
		"source", src,
		"dest", bucket+"/"+req.Key,
		"bytes", info.Size(),
		"encrypted", a.encryptor != nil,
	)
	return info.Size(), nil
}

// encryptToTemp writes the ciphertext of r to a temp file and rewinds it.
func (a *App) encryptToTemp(r io.Reader) (*os.File, error) {
	tmp, err := os.CreateTemp("", "walrecover-archive-*.age")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	if err := a.encryptor.Encrypt(r, tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("encrypting log: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("rewinding temp file: %w", err)
	}
	return tmp, nil
}

// History returns the most recent sessions, newest first.
func (a *App) History(limit int) ([]*recovery.SessionRecord, error) {
	return a.journal.ListSessions(limit)
}

// Close closes the journal and the log file.
func (a *App) Close() error {
	var firstErr error
	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

func (a *App) storePath() (string, error) {
	if a.cfg.Store.Path == "" {
		return "", errors.New("store.path is not set")
	}
	return a.cfg.Store.Path, nil
}

func (a *App) verifier() *recovery.Verifier {
	return recovery.NewVerifier(a.engine, a.idgen, recovery.VerifyConfig{
		SanityQueries: a.cfg.Recovery.SanityQueries,
	}, a.logger)
}

// strategy builds the Strategy for kind, defaulting to recovery.strategy.
func (a *App) strategy(kind recovery.StrategyKind, logPath string) (recovery.Strategy, error) {
	kind, err := recovery.ParseStrategyKind(string(cmp.Or(kind, recovery.StrategyKind(a.cfg.Recovery.Strategy))))
	if err != nil {
		return nil, err
	}
	switch kind {
	case recovery.StrategyReplay:
		return recovery.NewStatementReplay(a.engine, cmp.Or(logPath, a.cfg.Store.ReplayLogPath), a.logger), nil
	default:
		return recovery.NewCheckpointMerge(a.engine, a.cleaner, a.logger), nil
	}
}
