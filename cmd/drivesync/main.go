package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/drivesync/drive"
	"github.com/alexjbarnes/drivesync/internal/checksum"
	"github.com/alexjbarnes/drivesync/internal/config"
	errs "github.com/alexjbarnes/drivesync/internal/errors"
	"github.com/alexjbarnes/drivesync/internal/history"
	"github.com/alexjbarnes/drivesync/internal/logging"
)

var Version = "dev"

const usage = `usage: drivesync <command> [args]

commands:
  push                      upload local changes to the drive
  pull                      apply remote changes locally
  full-push                 make the drive mirror the vault
  full-pull                 make the vault mirror the drive
  resolve <id> <local|remote>  settle one pending conflict
  purge-trash               permanently delete the drive's trash folder
  history <path> [steps]    show a file's edit history, or reconstruct
                            its content from <steps> entries ago
  watch                     record local edits into history until interrupted
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs, wired once from config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	vault   *drive.Vault
	syncer  *drive.Syncer
	history *history.Store
}

func (a *app) close() {
	a.syncer.Wait()
	if err := a.history.Close(); err != nil {
		a.logger.Warn("closing history db", slog.String("error", err.Error()))
	}
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("drivesync starting",
		slog.String("version", Version),
		slog.String("vault", cfg.VaultDir),
		slog.String("device", cfg.DeviceName),
	)

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	engine, err := checksum.NewEngine(cfg.ChecksumCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating checksum engine: %w", err)
	}

	hist, err := history.Open(filepath.Join(cfg.VaultDir, ".drivesync", "history.db"))
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	vault := drive.NewVault(cfg.VaultDir)
	client := drive.NewClient(nil, cfg.DriveBaseURL, cfg.DriveToken)
	scanner := drive.NewScanner(vault, engine, settings.ExcludePredicate(), logger)

	syncer := drive.NewSyncer(vault, client, scanner, hist, logger, drive.SyncerOptions{
		BatchSize:  cfg.SyncBatchSize,
		PatchDrift: cfg.PatchDriftLines,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		vault:   vault,
		syncer:  syncer,
		history: hist,
	}, nil
}

func run(command string, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "push":
		return a.reportConflicts(a.syncer.Push(ctx))
	case "pull":
		return a.reportConflicts(a.syncer.Pull(ctx))
	case "full-push":
		return a.syncer.FullPush(ctx)
	case "full-pull":
		return a.syncer.FullPull(ctx)
	case "resolve":
		return a.resolve(ctx, args)
	case "purge-trash":
		purged, err := a.syncer.PurgeTrash(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d object(s)\n", purged)
		return nil
	case "history":
		return a.showHistory(args)
	case "watch":
		return a.watch(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// reportConflicts turns a conflict-blocked operation into actionable
// output: each pending conflict with the id the resolve command needs.
func (a *app) reportConflicts(err error) error {
	if !errors.Is(err, errs.ErrConflictsPending) {
		return err
	}

	fmt.Fprintln(os.Stderr, "unresolved conflicts:")
	for _, c := range a.syncer.Conflicts() {
		fmt.Fprintf(os.Stderr, "  [%s] %s (%s)\n", c.FileID, c.FileName, c.Kind)
	}
	fmt.Fprintln(os.Stderr, "run: drivesync resolve <id> <local|remote>")

	return err
}

func (a *app) resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: drivesync resolve <id> <local|remote>")
	}

	id := drive.FileID(args[0])
	choice := drive.Resolution(args[1])

	if err := a.syncer.Resolve(ctx, id, choice); err != nil {
		return err
	}

	if remaining := a.syncer.Conflicts(); len(remaining) > 0 {
		fmt.Printf("resolved; %d conflict(s) remaining\n", len(remaining))
	} else {
		fmt.Println("all conflicts resolved")
	}
	return nil
}

func (a *app) showHistory(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: drivesync history <path> [steps]")
	}
	path := args[0]

	if len(args) >= 2 {
		steps, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("steps must be a number: %w", err)
		}

		content, err := a.syncer.ReconstructAt(path, steps)
		if err != nil {
			return err
		}
		fmt.Print(content)
		return nil
	}

	entries, err := a.syncer.FileHistory(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no recorded history")
		return nil
	}

	for i, e := range entries {
		fmt.Printf("%3d  %s  %s\n", i+1, e.RecordedAt.Format("2006-01-02 15:04:05"), e.Origin)
	}
	return nil
}

// watch runs the filesystem watcher until the context is cancelled,
// feeding settled edits into the history store.
func (a *app) watch(ctx context.Context) error {
	settings, err := config.LoadSettings(a.cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	watcher := drive.NewWatcher(a.vault, a.syncer, settings.ExcludePredicate(), a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Watch(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("watcher stopped")
		return nil
	}
	return err
}
