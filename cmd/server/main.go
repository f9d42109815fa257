package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"biopass/internal/assertion"
	"biopass/internal/attestation"
	"biopass/internal/audit"
	"biopass/internal/challenge"
	"biopass/internal/credential"
	"biopass/internal/ledger"
	"biopass/internal/platform/config"
	"biopass/internal/platform/httpserver"
	"biopass/internal/platform/logger"
	"biopass/internal/platform/metrics"
	"biopass/internal/platform/postgres"
	"biopass/internal/platform/redis"
	"biopass/internal/recognition"
	"biopass/internal/reconciler"
	"biopass/internal/session"
	httptransport "biopass/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages; everything here is construction,
// fallback selection, and shutdown ordering.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New()

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	rdb, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	var auditPublisher audit.Publisher = audit.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		kafkaPublisher, err := audit.NewKafkaPublisher(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("kafka publisher init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			// Flush buffered audit events, bounded.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := kafkaPublisher.Close(flushCtx); err != nil {
				log.Error("audit publisher close failed", "error", err)
			}
		}()
		auditPublisher = kafkaPublisher
	}

	var credentialStore credential.Store = credential.NewMemoryStore()
	var sessionStore session.Store = session.NewMemoryStore()
	var attestationStore attestation.Store = attestation.NewMemoryStore()
	if db != nil {
		credentialStore = credential.NewPostgresStore(db)
		sessionStore = session.NewPostgresStore(db)
		attestationStore = attestation.NewPostgresStore(db)
		defer db.Close()
	}

	var challengeStore challenge.Store = challenge.NewMemoryStore()
	if rdb != nil {
		challengeStore = challenge.NewRedisStore(rdb.Client)
		defer rdb.Close()
	}

	challenges, err := challenge.New(challengeStore, credential.NewUserSource(credentialStore),
		challenge.WithLogger(log),
		challenge.WithMetrics(m),
		challenge.WithAuditPublisher(auditPublisher),
		challenge.WithTTL(cfg.ChallengeTTL),
		challenge.WithMaxOutstanding(cfg.MaxOutstandingChallenges))
	if err != nil {
		log.Error("challenge service init failed", "error", err)
		os.Exit(1)
	}

	verifier, err := assertion.NewVerifier(credentialStore, cfg.ExpectedOrigin,
		assertion.WithLogger(log))
	if err != nil {
		log.Error("assertion verifier init failed", "error", err)
		os.Exit(1)
	}

	registration, err := credential.NewService(credentialStore, challenges, verifier,
		credential.WithLogger(log),
		credential.WithAuditPublisher(auditPublisher))
	if err != nil {
		log.Error("registration service init failed", "error", err)
		os.Exit(1)
	}

	gateway, err := recognition.NewHTTPGateway(cfg.RecognitionURL,
		recognition.WithLogger(log),
		recognition.WithMetrics(m),
		recognition.WithTimeout(cfg.RecognitionTimeout),
		recognition.WithToken(cfg.RecognitionToken))
	if err != nil {
		log.Error("recognition gateway init failed", "error", err)
		os.Exit(1)
	}

	// The ledger is optional in development; decisions are still made and
	// audited, just not anchored.
	var attester *attestation.Service
	var attestationReader httptransport.AttestationReader
	if cfg.LedgerRPCURL != "" {
		ledgerClient, err := ledger.NewEthereumClient(cfg.LedgerRPCURL,
			cfg.LedgerPrivateKeyHex, cfg.LedgerContractAddr, cfg.LedgerChainID, log)
		if err != nil {
			log.Error("ledger client init failed", "error", err)
			os.Exit(1)
		}
		defer ledgerClient.Close()

		attester, err = attestation.New(attestationStore, ledgerClient,
			attestation.WithLogger(log),
			attestation.WithMetrics(m),
			attestation.WithAuditPublisher(auditPublisher),
			attestation.WithPollSchedule(cfg.ConfirmInterval, cfg.ConfirmAttempts),
			attestation.WithRequiredConfirmations(cfg.RequiredConfirmations))
		if err != nil {
			log.Error("attestation service init failed", "error", err)
			os.Exit(1)
		}
		defer attester.Close()
		attestationReader = attester
	} else {
		log.Warn("no ledger configured, decisions will not be attested")
	}

	var reconcilerAttester reconciler.Attester
	if attester != nil {
		reconcilerAttester = attester
	}
	verification, err := reconciler.New(sessionStore, challenges, verifier, gateway, reconcilerAttester,
		reconciler.WithLogger(log),
		reconciler.WithMetrics(m),
		reconciler.WithAuditPublisher(auditPublisher),
		reconciler.WithSessionTTL(cfg.SessionTTL),
		reconciler.WithPolicy(reconciler.Policy{
			ScoreThreshold:  cfg.ScoreThreshold,
			AcceptOnTimeout: cfg.AcceptOnTimeout,
		}))
	if err != nil {
		log.Error("reconciler init failed", "error", err)
		os.Exit(1)
	}
	defer verification.Close()

	handler := httptransport.NewHandler(challenges, registration, verification, attestationReader, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting biopass server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Sweep expired challenges out of the in-memory store; redis expires
		// its own keys.
		challenges.RunGC(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		// Expire sessions orphaned by a restart; their TTL timers died with
		// the previous process.
		verification.RunGC(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
