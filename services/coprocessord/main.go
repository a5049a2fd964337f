// Package coprocessord runs the confidential batch-analytics coprocessor:
// protocol engine, persistence, audit journal, oracle wiring, and the HTTP
// gateway.
package coprocessord

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fhecoproc/audit"
	"fhecoproc/config"
	"fhecoproc/core/events"
	"fhecoproc/crypto"
	"fhecoproc/fhe"
	"fhecoproc/gateway"
	gwauth "fhecoproc/gateway/auth"
	"fhecoproc/gateway/middleware"
	"fhecoproc/native/confidential"
	"fhecoproc/observability/logging"
	"fhecoproc/observability/metrics"
	"fhecoproc/oracle"
	"fhecoproc/storage"
	"fhecoproc/storage/confstate"
)

// Main runs the coprocessor daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/coprocessord/config.yaml", "path to coprocessord config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FHECOPROC_ENV"))
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("coprocessord", env)

	protocolCfg, err := config.Load(cfg.ProtocolConfig)
	if err != nil {
		return fmt.Errorf("load protocol config: %w", err)
	}
	if err := protocolCfg.Validate(); err != nil {
		return fmt.Errorf("protocol config: %w", err)
	}
	owner, err := protocolCfg.OwnerAddress()
	if err != nil {
		return fmt.Errorf("protocol config owner: %w", err)
	}
	providers, err := protocolCfg.ProviderAddresses()
	if err != nil {
		return fmt.Errorf("protocol config providers: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/state")
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	journal, err := audit.Open(cfg.JournalPath, logger)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = journal.Close() }()
	if err := journal.Verify(); err != nil {
		return fmt.Errorf("journal integrity: %w", err)
	}

	engine := confidential.NewEngine()
	engine.SetState(confstate.New(db))
	engine.SetEmitter(events.MultiEmitter{journal, metrics.Confidential().Emitter()})
	engine.SetInstanceID(protocolCfg.InstanceID)
	if protocolCfg.PendingTTLSeconds > 0 {
		engine.SetPendingTTL(time.Duration(protocolCfg.PendingTTLSeconds) * time.Second)
	}

	backend := fhe.NewSimBackend(cfg.SimSeed)
	engine.SetCoprocessor(backend)

	var oracleCaller [20]byte
	var simOracle *oracle.SimOracle
	switch cfg.OracleMode {
	case oracleModeSim:
		key, err := loadSimSigner(cfg.SimSignerKey)
		if err != nil {
			return fmt.Errorf("sim signer: %w", err)
		}
		simOracle = oracle.NewSimOracle(key, backend)
		oracleCaller = simOracle.SignerAddress().Array()
		engine.SetOracle(simOracle, oracleCaller)
		simOracle.SetCallback(func(requestID string, cleartext, proof []byte) {
			if _, err := engine.OnDecryptionResult(oracleCaller, requestID, cleartext, proof); err != nil {
				logger.Warn("sim callback rejected", "requestId", requestID, "error", err)
				metrics.Confidential().ObserveCallback("rejected")
			}
		})
		simOracle.AutoDeliver(250 * time.Millisecond)
		logger.Info("decryption oracle simulator enabled", "signer", simOracle.SignerAddress().String())
	case oracleModeHTTP:
		client, err := oracle.NewClient(cfg.OracleEndpoint, cfg.OracleAPIKey, cfg.RequestTimeout)
		if err != nil {
			return fmt.Errorf("oracle client: %w", err)
		}
		signer, err := crypto.DecodeAddress(cfg.OracleSigner)
		if err != nil {
			return fmt.Errorf("oracle signer: %w", err)
		}
		oracleCaller = signer.Array()
		engine.SetOracle(client, oracleCaller)
	}

	if err := engine.Initialize(owner, protocolCfg.CooldownSeconds, providers); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	callbackVerifier := gwauth.NewVerifier(
		map[string]string{cfg.CallbackAPIKey: cfg.CallbackSecret},
		0, 0, nil,
	)
	var authenticator *middleware.Authenticator
	if secret := strings.TrimSpace(cfg.AdminJWTSecret); secret != "" {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: secret,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
		}, logger)
	}
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"submit":   {RequestsPerMinute: cfg.SubmitPerMinute, Burst: 5},
		"analysis": {RequestsPerMinute: cfg.AnalysisPerMinute, Burst: 5},
	}, logger)

	router := gateway.NewRouter(gateway.Config{
		Engine:        engine,
		Journal:       journal,
		Logger:        logger,
		Authenticator: authenticator,
		RateLimiter:   limiter,
		Callback:      callbackVerifier,
		OracleCaller:  oracleCaller,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", router)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := time.NewTicker(cfg.ExpirySweep)
	defer sweeper.Stop()
	go func() {
		for {
			select {
			case <-stopCtx.Done():
				return
			case <-sweeper.C:
				reclaimed, err := engine.ExpirePending()
				if err != nil {
					logger.Error("expiry sweep failed", "error", err)
					continue
				}
				if reclaimed > 0 {
					logger.Info("expired pending decryption contexts", "count", reclaimed)
				}
			}
		}
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("coprocessord listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func loadSimSigner(keyHex string) (*crypto.PrivateKey, error) {
	if keyHex == "" {
		return crypto.GeneratePrivateKey()
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}
