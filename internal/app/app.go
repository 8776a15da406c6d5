package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"filedrop/internal/blob"
	"filedrop/internal/config"
	"filedrop/internal/database"
	"filedrop/internal/drop"
	"filedrop/internal/encryption"
	"filedrop/internal/server"
	"filedrop/internal/timer"
)

// shutdownTimeout bounds how long Serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// FiledropApp is the application layer between the CLI and the session hub.
// It constructs all dependencies from config, restores pending expiries, and
// manages the store and log file lifecycle on Close.
type FiledropApp struct {
	cfg     *config.Config
	store   database.Store
	blobs   drop.BlobStore
	timer   *timer.LocalTimer
	hub     *drop.Hub
	server  *server.Server
	logger  drop.Logger
	logFile *os.File
	runID   string
}

// NewFiledropApp creates a fully wired FiledropApp from the given config.
// The caller must call Close when done.
func NewFiledropApp(ctx context.Context, cfg *config.Config) (*FiledropApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	expiry, _ := cfg.Expiry()
	level, _ := cfg.Level()

	runID := uuid.New().String()[:8]
	slogger, logFile, err := newLogger(cfg.LogDir, runID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &FiledropApp{cfg: cfg, logger: logger, logFile: logFile, runID: runID}

	sealer, err := newSealer(cfg.Encryption, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.blobs, err = blob.NewStoreFromConfig(ctx, cfg.Blob, sealer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating blob store: %w", err)
	}

	a.store, err = database.NewStoreFromConfig(cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}

	clock := drop.RealClock{}
	a.timer = timer.New(clock, logger, a.store)
	a.hub = drop.NewHub(a.blobs, a.store, a.timer, logger, clock, drop.UUIDGenerator{}, drop.Options{
		Expiry:       expiry,
		BucketDomain: cfg.BucketDomain,
	})
	a.timer.OnFire(a.hub.Expire)

	restored, err := a.timer.Restore(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("restoring session expiries: %w", err)
	}

	a.server = server.New(a.hub, logger, server.Options{
		MaxUploadSize:  cfg.MaxUploadSize(),
		ClientIPHeader: cfg.ClientIPHeader(),
	})

	logger.Info("app ready",
		"blob", cfg.Blob.Type,
		"database", cfg.Database.Type,
		"encryption", cfg.Encryption.Type,
		"expiry", expiry.String(),
		"restored", restored)
	return a, nil
}

// newSealer builds the at-rest sealer, generating an age identity on first use.
func newSealer(cfg config.EncryptionConfig, logger drop.Logger) (drop.Sealer, error) {
	sealer, err := encryption.NewSealerFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	if ageSealer, ok := sealer.(*encryption.AgeSealer); ok && !ageSealer.IsConfigured() {
		if err := ageSealer.Setup(); err != nil {
			return nil, fmt.Errorf("generating age identity: %w", err)
		}
		logger.Info("generated age identity", "path", cfg.IdentityPath)
	}
	return sealer, nil
}

// Handler returns the HTTP handler serving sessions.
func (a *FiledropApp) Handler() http.Handler {
	return a.server.Handler()
}

// Hub returns the session hub.
func (a *FiledropApp) Hub() *drop.Hub {
	return a.hub
}

// RunID returns the short id tagging this run's log lines.
func (a *FiledropApp) RunID() string {
	return a.runID
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (a *FiledropApp) ListenAndServe(ctx context.Context) error {
	addr := a.cfg.Addr
	if addr == "" {
		addr = config.DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully: live channels are closed with a going-away code and in-flight
// requests get shutdownTimeout to finish. Durable state is kept.
func (a *FiledropApp) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", "sessions", a.hub.Len())
	a.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Close stops the expiry timer and releases the store and log file.
// Pending expiries stay persisted for the next start.
func (a *FiledropApp) Close() error {
	var firstErr error

	if a.timer != nil {
		a.timer.Stop()
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = fmt.Errorf("closing metadata store: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
