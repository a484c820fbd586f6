package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"go.dedis.ch/kyber/v4"

	"github.com/cybervault/meshledger/api"
	"github.com/cybervault/meshledger/config"
	"github.com/cybervault/meshledger/consensus"
	"github.com/cybervault/meshledger/ingest"
	"github.com/cybervault/meshledger/ledger"
	"github.com/cybervault/meshledger/network"
	"github.com/cybervault/meshledger/reputation"
	"github.com/cybervault/meshledger/storage"
	"github.com/cybervault/meshledger/vault"
)

const usage = `usage: %s [OPTIONS] <command>

commands:
  serve            run the node: HTTP API, ingestion and healing
  verify           check the integrity of the persisted ledger
  show             print the persisted ledger
  certgen <addr>   write a self-signed peer certificate for addr

options:
`

// readOnly lists the commands that never decrypt the ledger.
var readOnly = map[string]bool{"verify": true, "show": true}

func main() {
	configFlag := flag.String("config", "", "path of the configuration file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	if flag.Arg(0) == "certgen" {
		if err := certgen(flag.Args()[1:]); err != nil {
			pterm.Error.Println(err)
			os.Exit(1)
		}
		return
	}

	load := config.Load
	if readOnly[flag.Arg(0)] {
		load = config.LoadReadOnly
	}
	cfg, err := load(*configFlag)
	if err != nil {
		pterm.Error.Printfln("invalid configuration:\n%v", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log.Level)

	switch flag.Arg(0) {
	case "serve":
		err = serve(cfg, logger)
	case "verify":
		err = verify(cfg, logger)
	case "show":
		err = show(cfg, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// newLogger returns the pterm backed logger filtered at level.
func newLogger(level string) *slog.Logger {
	return slog.New(pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(parseLevel(level))))
}

func parseLevel(level string) pterm.LogLevel {
	switch level {
	case "trace":
		return pterm.LogLevelTrace
	case "debug":
		return pterm.LogLevelDebug
	case "warn":
		return pterm.LogLevelWarn
	case "error":
		return pterm.LogLevelError
	default:
		return pterm.LogLevelInfo
	}
}

// openLedger opens the configured persister and loads the chain from it.
// The returned close function releases the persister.
func openLedger(cfg *config.Config, logger *slog.Logger) (*ledger.Blockchain, func() error, error) {
	var (
		db  *storage.LevelDB
		err error
	)
	if cfg.Ledger.InMemory {
		db, err = storage.OpenMemory()
	} else {
		db, err = storage.Open(cfg.Ledger.DataDir)
	}
	if err != nil {
		return nil, nil, err
	}
	chain, err := ledger.Open(db, ledger.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return chain, db.Close, nil
}

func newPipeline(cfg *config.Config, chain *ledger.Blockchain, c vault.Cipher, logger *slog.Logger) *ingest.Pipeline {
	opts := []ingest.Option{
		ingest.WithThreshold(cfg.Ingest.FraudThreshold),
		ingest.WithLogger(logger),
	}
	if cfg.Ingest.Model == "logistic" {
		opts = append(opts, ingest.WithScorer(ingest.LogisticScorer{
			Bias:         cfg.Ingest.ModelBias,
			AmountWeight: cfg.Ingest.AmountWeight,
			TypeWeight:   cfg.Ingest.TypeWeight,
			HourWeight:   cfg.Ingest.HourWeight,
		}))
	}
	return ingest.NewPipeline(chain, c, opts...)
}

func newReputation(cfg *config.Config, chain *ledger.Blockchain, c vault.Cipher, logger *slog.Logger) (*reputation.Service, error) {
	opts := []reputation.Option{reputation.WithLogger(logger)}
	if len(cfg.Reputation.Credential) > 0 {
		eligibility, err := parseEligibility(cfg.Reputation.Credential)
		if err != nil {
			return nil, err
		}
		opts = append(opts, reputation.WithEligibility(eligibility))
	}
	return reputation.NewService(chain, c, opts...), nil
}

func parseEligibility(credentials []string) (*reputation.DLEQEligibility, error) {
	points := make([]kyber.Point, 0, len(credentials))
	var errs []error
	for i, s := range credentials {
		p, err := reputation.ParseCredential(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("credential %d: %w", i, err))
			continue
		}
		points = append(points, p)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reputation.NewDLEQEligibility(points...), nil
}

// signingKey returns the configured ed25519 key, or a fresh one.
func signingKey(cfg *config.Config) (ed25519.PrivateKey, error) {
	if cfg.Crypto.SigningKey == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, err
	}
	seed, err := hex.DecodeString(cfg.Crypto.SigningKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be %d hex encoded bytes", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	printBanner()
	printSettings(cfg)

	chain, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()
	if halted, reason := chain.Halted(); halted {
		pterm.Warning.Printfln("Ledger halted: %s", reason)
	}

	c, err := vault.New(cfg.Crypto.Algorithm, cfg.Crypto.Passphrase, []byte(cfg.Crypto.Salt))
	if err != nil {
		return err
	}
	pipeline := newPipeline(cfg, chain, c, logger)
	rep, err := newReputation(cfg, chain, c, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healerOpts := []consensus.Option{consensus.WithLogger(logger)}
	var mesh *network.P2P
	if cfg.MeshEnabled() {
		priv, err := signingKey(cfg)
		if err != nil {
			return err
		}
		spinner, _ := pterm.DefaultSpinner.Start("Trying to establish the connections with the other peers...")
		mesh, err = joinMesh(cfg, chain, priv, logger)
		if err != nil {
			spinner.Fail()
			return err
		}
		keys, err := mesh.ExchangeKeys(priv.Public().(ed25519.PublicKey))
		if err != nil {
			spinner.Fail()
			mesh.Close()
			return err
		}
		spinner.Success()
		pterm.Success.Printfln("Successfully connected with %d peers, your rank is %d", mesh.GetPeerCount()-1, mesh.GetRank())
		if err := printPeers(mesh.GetAddresses(), mesh.GetRank(), keys); err != nil {
			logger.Warn("failed to print the peer table", "error", err)
		}
		defer mesh.Close()
		healerOpts = append(healerOpts, consensus.WithPeerKeys(keys))
	}
	healer := consensus.NewHealer(chain, healerOpts...)
	if mesh != nil && cfg.Heal.Enabled {
		go func() {
			if err := healer.Run(ctx, mesh, cfg.HealInterval()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("healing stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.Api.Address,
		Handler: api.NewServer(chain, pipeline, rep, healer, logger).Router(),
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	pterm.Info.Printfln("API listening on %s", cfg.Api.Address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func verify(cfg *config.Config, logger *slog.Logger) error {
	chain, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	spinner, _ := pterm.DefaultSpinner.Start("Verifying the ledger...")
	if err := chain.Verify(); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("Ledger is valid: %d blocks", chain.Len()))
	return nil
}

func show(cfg *config.Config, logger *slog.Logger) error {
	chain, closeLedger, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()
	return printChain(chain.CurrentChain())
}
