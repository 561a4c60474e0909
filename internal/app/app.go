package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"dms-go/internal/api"
	"dms-go/internal/archive"
	"dms-go/internal/auth"
	"dms-go/internal/config"
	"dms-go/internal/database"
	"dms-go/internal/dms"
	"dms-go/internal/encryption"
	"dms-go/internal/mailer"
	"dms-go/internal/sweeper"
)

// DMSApp is the application layer between the CLI and DMSService.
// It constructs all dependencies from config, runs the HTTP server and the
// sweep scheduler, and releases resources on Close.
type DMSApp struct {
	cfg       *config.Config
	store     *database.SQLStore
	mailer    dms.Mailer
	archive   dms.Archive
	encryptor dms.Encryptor
	service   *dms.DMSService
	logger    dms.Logger
	op        *Operation
	logFile   *os.File
}

// NewDMSApp creates a fully wired DMSApp from the given config.
// operation identifies the CLI command being run (e.g. "serve", "sweep").
// The caller must call Close when done.
func NewDMSApp(ctx context.Context, cfg *config.Config, operation string) (*DMSApp, error) {
	if cfg.Security.CodePepper == "" {
		return nil, fmt.Errorf("security.code_pepper must be set")
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	op := NewOperation(operation, time.Now())
	slogger, logFile, err := newLogger(cfg.LogDir, op.Name, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	store, err := database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	// An in-memory database starts empty on every run.
	if cfg.Database.Type == "memory" {
		err = store.Migrate()
	} else {
		err = store.CheckMigrations()
	}
	if err != nil {
		store.Close()
		logFile.Close()
		return nil, fmt.Errorf("database schema out of date (run 'dms migrate'): %w", err)
	}

	a := &DMSApp{cfg: cfg, store: store, logger: logger, op: op, logFile: logFile}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *DMSApp) wire(ctx context.Context) error {
	var err error
	if a.cfg.Archive.Encrypt {
		if a.encryptor, err = encryption.NewEncryptorFromConfig(a.cfg.Encryption); err != nil {
			return fmt.Errorf("creating encryptor: %w", err)
		}
	}
	if a.archive, err = archive.NewArchiveFromConfig(ctx, a.cfg.Archive, a.encryptor); err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if a.mailer, err = mailer.NewMailerFromConfig(a.cfg.Mail, a.logger); err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}

	a.service = dms.NewDMSService(a.store, a.mailer, a.archive,
		dms.NewCodeHasher(a.cfg.Security.CodePepper), a.logger, dms.RealClock{}, dms.UUIDGenerator{})
	return nil
}

// Service returns the wired DMSService.
func (a *DMSApp) Service() *dms.DMSService { return a.service }

// Serve runs the HTTP API and the sweep scheduler until ctx is cancelled,
// then shuts both down within the configured shutdown timeout. ready, if
// not nil, is called once the listener is bound.
func (a *DMSApp) Serve(ctx context.Context, ready func(addr string)) error {
	srvCfg := a.cfg.Server
	readTimeout, err := config.ParseDurationOrDefault("server.read_timeout", srvCfg.ReadTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	writeTimeout, err := config.ParseDurationOrDefault("server.write_timeout", srvCfg.WriteTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	shutdownTimeout, err := config.ParseDurationOrDefault("server.shutdown_timeout", srvCfg.ShutdownTimeout, 15*time.Second)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(a.cfg.Auth)
	if err != nil {
		return fmt.Errorf("creating token verifier: %w", err)
	}
	runner, err := sweeper.NewRunner(a.service, a.cfg.Scheduler, a.logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	ln, err := net.Listen("tcp", srvCfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srvCfg.Listen, err)
	}

	srv := &http.Server{
		Handler:      api.NewRouter(a.service, verifier, a.cfg.Security, a.logger),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	if err := runner.Start(ctx); err != nil {
		ln.Close()
		return fmt.Errorf("starting scheduler: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	a.logger.Info("serving", "addr", ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case err = <-serveErr:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = fmt.Errorf("shutting down http server: %w", shutdownErr)
	}
	if stopErr := runner.Stop(shutdownCtx); stopErr != nil && err == nil {
		err = fmt.Errorf("stopping scheduler: %w", stopErr)
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err != nil {
		a.op.Fail()
	}
	return err
}

// Sweep runs one sweep immediately.
func (a *DMSApp) Sweep(ctx context.Context) (dms.SweepReport, error) {
	report, err := a.service.Sweep(ctx)
	if err != nil {
		a.op.Fail()
	}
	return report, err
}

// ListArchived returns the archive keys under prefix.
func (a *DMSApp) ListArchived(ctx context.Context, prefix string) ([]string, error) {
	if a.archive == nil {
		return nil, fmt.Errorf("no archive configured")
	}
	return a.archive.List(ctx, prefix)
}

// ShowArchived writes the archived message at key to w, decrypting it with
// passphrase when the archive is sealed.
func (a *DMSApp) ShowArchived(ctx context.Context, key, passphrase string, w io.Writer) error {
	if a.archive == nil {
		return fmt.Errorf("no archive configured")
	}
	if !a.cfg.Archive.Encrypt {
		return a.archive.Get(ctx, key, w)
	}
	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}
	return archive.Open(ctx, a.archive, key, dc, w)
}

// ArchiveSealed reports whether archived messages need a passphrase to read.
func (a *DMSApp) ArchiveSealed() bool { return a.cfg.Archive.Encrypt }

// Close logs the outcome of the operation and closes all resources.
func (a *DMSApp) Close() error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	a.logger.Info("operation finished", "status", a.op.Status, "elapsed", a.op.Elapsed(time.Now()))
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
