package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ds "github.com/ipfs/go-datastore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"golang.org/x/sync/errgroup"

	"github.com/relves/splitescrow/internal/archive"
	"github.com/relves/splitescrow/internal/config"
	"github.com/relves/splitescrow/internal/storage"
	"github.com/relves/splitescrow/internal/storage/memstore"
	"github.com/relves/splitescrow/internal/storage/sqlite"
	"github.com/relves/splitescrow/pkg/authority"
	"github.com/relves/splitescrow/pkg/escrow"
	"github.com/relves/splitescrow/pkg/journal"
	"github.com/relves/splitescrow/pkg/ledger"
	"github.com/relves/splitescrow/pkg/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level, _ := cfg.Level()
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Load the service key from the environment or generate an ephemeral one
	priv, err := loadKey(cfg)
	if err != nil {
		return fmt.Errorf("failed to load keys: %w", err)
	}
	pub := priv.Public().(ed25519.PublicKey)

	// ucanto service identity, same key as the checkpoint signer
	serviceSigner, err := signer.FromRaw(priv)
	if err != nil {
		return fmt.Errorf("failed to create service signer: %w", err)
	}
	noteSigner, err := journal.NewNoteSigner(priv, cfg.Origin)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint signer: %w", err)
	}

	store, blocks, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	programID, _ := cfg.Program()
	program := escrow.NewProgram(authority.NewDeriver(programID), cfg.Policy())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledgerCfg := ledger.Config{
		Store:   store,
		Program: program,
		Journal: journal.New(noteSigner),
		Archive: archive.New(blocks),
		Metrics: ledger.NewMetrics(reg),
		Logger:  logger,
	}

	var mirror *journal.TesseraMirror
	if cfg.TlogPath != "" {
		mirror, err = journal.NewTesseraMirror(ctx, cfg.TlogPath, noteSigner, logger)
		if err != nil {
			return fmt.Errorf("failed to open tessera mirror: %w", err)
		}
		ledgerCfg.Mirror = mirror
	}

	l, err := ledger.New(ledgerCfg)
	if err != nil {
		return err
	}
	if err := l.VerifyJournal(ctx); err != nil {
		return fmt.Errorf("journal check failed: %w", err)
	}

	ucantoServer, err := server.NewServer(
		server.WithSigner(serviceSigner),
		server.WithLedger(l),
		server.WithValidator(nil),
		server.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create ucanto server: %w", err)
	}

	mux := http.NewServeMux()
	// UCAN RPC endpoint (POST)
	mux.HandleFunc("POST /", server.RPCHandler(ucantoServer))
	server.NewHTTPHandler(l, server.WithFunding(cfg.Funding), server.WithHTTPLogger(logger)).Register(mux)
	if cfg.Metrics {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("splitescrow starting",
		"addr", cfg.Addr,
		"service_did", serviceSigner.DID().String(),
		"public_key", hex.EncodeToString(pub),
		"ephemeral_key", cfg.PrivateKey == "",
		"program_id", programID.String(),
		"origin", noteSigner.Name(),
		"store", cfg.Store,
		"tessera", cfg.TlogPath != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if mirror != nil {
			err = errors.Join(err, mirror.Close(shutdownCtx))
		}
		logger.Info("splitescrow stopped")
		return err
	})
	return g.Wait()
}

// openStore opens the configured record store and the datastore the
// instruction archive keeps its blocks in.
func openStore(cfg config.Config) (storage.StateStore, ds.Batching, error) {
	switch cfg.Store {
	case config.StoreMemory:
		s := memstore.New()
		return s, s.Datastore(), nil
	default:
		s, err := sqlite.Open(cfg.DataPath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Datastore(), nil
	}
}

// loadKey returns the configured Ed25519 key or generates an ephemeral one.
func loadKey(cfg config.Config) (ed25519.PrivateKey, error) {
	priv, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	if priv != nil {
		return priv, nil
	}
	_, priv, err = ed25519.GenerateKey(nil)
	return priv, err
}
