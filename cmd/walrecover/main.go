package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wal-recover/internal/app"
	"wal-recover/internal/config"
	"wal-recover/internal/recovery"
)

// passphraseEnv supplies the private key passphrase when stdin is not a
// terminal.
const passphraseEnv = "WALRECOVER_PASSPHRASE"

// errSessionFailed makes the process exit non-zero after a failed session
// has already been reported.
var errSessionFailed = errors.New("recovery failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newApp reads the config, applies flag overrides and creates an App.
// The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if store, _ := cmd.Flags().GetString("store"); store != "" {
		cfg.Store.Path = store
	}

	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}

	a, err := app.NewApp(cmd.Context(), cfg, level)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on the terminal, or falls back to $WALRECOVER_PASSPHRASE.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal; set %s", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

var rootCmd = &cobra.Command{
	Use:          "walrecover",
	Short:        "Recover a local SQLite store from an archived WAL segment or statement log",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.LogDir = defaults.LogDir
		if store, _ := cmd.Flags().GetString("store"); store != "" {
			cfg.Store.Path = store
		}

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir: %s\n", defaults.BaseDir)
		if cfg.Store.Path == "" {
			fmt.Println("Set store.path before running a recovery.")
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Path)
		fmt.Printf("Source:     %s (bucket %q)\n", cfg.Source.Type, cfg.Source.Bucket)
		fmt.Printf("Strategy:   %s\n", cfg.Recovery.Strategy)
		fmt.Printf("Attempts:   %d (backoff %s)\n", cfg.Recovery.FetchAttempts, cfg.Recovery.RetryBackoff)
		fmt.Printf("Encryption: %s\n", cmp.Or(cfg.Encryption.Type, "none"))
		fmt.Printf("Journal:    %s\n", cfg.Journal.Type)
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nConfig problems:\n%s\n", err)
		}
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.EncryptionEnabled() {
			return app.ErrEncryptionDisabled
		}
		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(passphraseEnv) == "" {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return errors.New("passphrases do not match")
			}
		}
		if err := a.SetupKeys(pass); err != nil {
			return err
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

// recover command
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Fetch an archived log and apply it to the store",
}

func newRecoverCmd(kind recovery.StrategyKind, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			bucket, _ := cmd.Flags().GetString("bucket")
			logPath, _ := cmd.Flags().GetString("log")
			noVerify, _ := cmd.Flags().GetBool("no-verify")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req := app.RecoverRequest{
				Strategy:   kind,
				Key:        key,
				Bucket:     bucket,
				LogPath:    logPath,
				SkipVerify: noVerify,
			}
			if a.EncryptionEnabled() {
				if req.Passphrase, err = readPassphrase("Passphrase: "); err != nil {
					return err
				}
			}

			res, err := a.Recover(cmd.Context(), req)
			if res != nil {
				printResult(res)
			}
			if err != nil {
				return err
			}
			if !res.Success {
				return errSessionFailed
			}
			return nil
		},
	}
	cmd.Flags().StringP("key", "k", "", "Object key of the archived log")
	cmd.Flags().StringP("bucket", "b", "", "Bucket (default: source.bucket)")
	cmd.Flags().Bool("no-verify", false, "Skip post-recovery verification")
	cmd.MarkFlagRequired("key")
	if kind == recovery.StrategyReplay {
		cmd.Flags().String("log", "", "Local path for the fetched statement log")
	}
	return cmd
}

func printResult(res *recovery.Result) {
	status := "OK"
	if !res.Success {
		status = "FAILED"
	}
	fmt.Printf("Session:  %s\n", res.SessionID)
	fmt.Printf("Strategy: %s\n", res.Strategy)
	fmt.Printf("Artifact: %s -> %s\n", res.Artifact, res.LogPath)
	fmt.Printf("Status:   %s\n", status)
	if !res.Success {
		fmt.Printf("Phase:    %s\n", res.Phase)
		fmt.Printf("Reason:   %s\n", res.FailureReason)
	}
	fmt.Printf("Fetch:    %s (%d bytes, %d attempt(s))\n", ms(res.FetchDuration), res.Bytes, res.FetchAttempts)
	fmt.Printf("Apply:    %s\n", ms(res.ApplyDuration))
	fmt.Printf("Verify:   %s\n", ms(res.VerifyDuration))
	fmt.Printf("Total:    %s\n", ms(res.TotalDuration()))
	if res.Guard != recovery.OutcomeNone {
		fmt.Printf("Backup:   %s\n", res.Guard)
	}
	if res.Verdict != nil {
		printVerdict(res.Verdict)
	}
	for _, w := range res.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}

func printVerdict(v *recovery.Verdict) {
	for _, c := range v.Checks {
		mark := "pass"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  %-10s %s  %s\n", c.Name, mark, c.Detail)
	}
	for table, n := range v.TableRows {
		fmt.Printf("  table %s: %d rows\n", table, n)
	}
}

func ms(d time.Duration) string {
	return d.Truncate(time.Millisecond).String()
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the store's structure, writability and integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		verdict, err := a.Verify(cmd.Context())
		if verdict != nil {
			printVerdict(verdict)
		}
		return err
	},
}

// clean command
var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the store's -wal and -shm residue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		found, warnings, err := a.Clean()
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Println("Nothing to clean.")
		}
		for _, p := range found {
			fmt.Printf("removed %s\n", p)
		}
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}
		return nil
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve a backup left by an interrupted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		logPath, _ := cmd.Flags().GetString("log")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		outcome, warnings, err := a.Reconcile(recovery.StrategyKind(strategy), logPath)
		if err != nil {
			return err
		}
		fmt.Printf("Backup: %s\n", outcome)
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}
		if outcome == recovery.OutcomeStuck || outcome == recovery.OutcomeKept {
			return fmt.Errorf("backup unresolved (%s)", outcome)
		}
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload a local log to the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		bucket, _ := cmd.Flags().GetString("bucket")
		path, _ := cmd.Flags().GetString("path")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Archive(cmd.Context(), app.ArchiveRequest{Key: key, Bucket: bucket, Path: path})
		if err != nil {
			return err
		}
		fmt.Printf("Archived %d bytes to %s\n", n, key)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recovery session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No recovery sessions recorded.")
			return nil
		}

		for _, s := range sessions {
			status := "success"
			if !s.Success {
				status = "failed:" + string(s.Phase)
			}
			fmt.Printf("%s  %-10s  %s  %-16s  %-8s  %s\n",
				s.ID[:min(8, len(s.ID))],
				s.Strategy,
				s.StartedAt.Local().Format("2006-01-02 15:04:05"),
				status,
				ms(s.FinishedAt.Sub(s.StartedAt)),
				s.Artifact,
			)
			if s.FailureReason != "" {
				fmt.Printf("          %s\n", strings.TrimSpace(s.FailureReason))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("store", "", "Store file (default: store.path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Echo debug logs to stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)

	// recover subcommands
	recoverCmd.AddCommand(newRecoverCmd(recovery.StrategyCheckpoint, "Merge an archived WAL segment into the store"))
	recoverCmd.AddCommand(newRecoverCmd(recovery.StrategyReplay, "Replay an archived statement log in one transaction"))

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().String("strategy", "", "Strategy whose log to reconcile (default: recovery.strategy)")
	reconcileCmd.Flags().String("log", "", "Statement log path, for replay")
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringP("key", "k", "", "Object key to store the log under")
	archiveCmd.Flags().StringP("bucket", "b", "", "Bucket (default: source.bucket)")
	archiveCmd.Flags().StringP("path", "p", "", "Local log to upload (default: the store's -wal file)")
	archiveCmd.MarkFlagRequired("key")
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of sessions to show")
}
