package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	cacheadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/http"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/memory"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/postgres"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/adapters/security"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	outbox     *eventadapter.OutboxWorker
	cleanupFn  func(context.Context)
}

// storage is the set of registries the service runs against, whichever
// backend provides them.
type storage struct {
	licenses     ports.LicenseRepository
	devices      ports.DeviceRepository
	bindings     ports.BindingRepository
	products     ports.ProductRepository
	licenseTypes ports.LicenseTypeRepository
	users        ports.UserRepository
	outbox       ports.OutboxRepository
	audit        ports.AuditSink
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping m91 license service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.StorageBackend,
	)

	closers := make([]func(), 0, 4)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	store, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, closeStore)

	locker, closeLocker, err := openLocker(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, closeLocker)

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	closers = append(closers, closePublisher)

	ticketSigner, err := newTicketSigner(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}
	tokens, err := newTokenVerifier(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:        cfg.ServiceID,
			TicketLifetimeDays: cfg.TicketLifetimeDays,
			AuditTimeout:       cfg.AuditTimeout,
		},
		Licenses:     store.licenses,
		Devices:      store.devices,
		Bindings:     store.bindings,
		Products:     store.products,
		LicenseTypes: store.licenseTypes,
		Users:        store.users,
		Audit:        store.audit,
		Locker:       locker,
		Signer:       ticketSigner,
		Tokens:       tokens,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := httpadapter.NewHandler(svc, httpadapter.HandlerOptions{
		ActivationRPS:     cfg.ActivationRPS,
		ActivationBurst:   cfg.ActivationBurst,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Registry:          registry,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpadapter.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewLicensingInternalServer(svc))

	outbox := eventadapter.NewOutboxWorker(logger, store.outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		httpServer: httpServer,
		grpcServer: grpcServer,
		outbox:     outbox,
		cleanupFn:  func(context.Context) { cleanup() },
	}, nil
}

func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (storage, func(), error) {
	if cfg.StorageBackend == StorageMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		repos := memory.NewRepositories()
		if err := seedMemory(repos.Store, cfg.Seed); err != nil {
			return storage{}, nil, err
		}
		return storage{
			licenses:     repos.Licenses,
			devices:      repos.Devices,
			bindings:     repos.Bindings,
			products:     repos.Products,
			licenseTypes: repos.LicenseTypes,
			users:        repos.Users,
			outbox:       repos.Outbox,
			audit:        repos.Audit,
		}, func() {}, nil
	}

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return storage{}, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = postgres.Close(db)
		return storage{}, nil, fmt.Errorf("run migrations: %w", err)
	}
	repos := postgres.NewRepositories(db)
	return storage{
		licenses:     repos.Licenses,
		devices:      repos.Devices,
		bindings:     repos.Bindings,
		products:     repos.Products,
		licenseTypes: repos.LicenseTypes,
		users:        repos.Users,
		outbox:       repos.Outbox,
		audit:        repos.Audit,
	}, closeDB(db), nil
}

func closeDB(db *gorm.DB) func() {
	return func() { _ = postgres.Close(db) }
}

// openLocker prefers a Redis-backed lock so that replicas serialize
// activations of the same code. Without REDIS_URL the lock is process-local.
func openLocker(ctx context.Context, cfg Config, logger *slog.Logger) (ports.Locker, func(), error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set; activation lock is process-local")
		return cacheadapter.NewLocalLocker(), func() {}, nil
	}
	client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	opts := cacheadapter.DefaultLockOptions()
	opts.Expiry = cfg.LockExpiry
	opts.Tries = cfg.LockTries
	return cacheadapter.NewRedisLocker(client, opts), closeRedis(client), nil
}

func closeRedis(client *redis.Client) func() {
	return func() { _ = client.Close() }
}

func openPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, eventadapter.DefaultTopics)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, func() { _ = publisher.Close() }, nil
}

func newTicketSigner(cfg Config, logger *slog.Logger) (*security.TicketSigner, error) {
	if cfg.TicketPrivateKeyPEM != "" {
		signer, err := security.NewTicketSigner(cfg.TicketPrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("init ticket signer: %w", err)
		}
		return signer, nil
	}
	logger.Warn("using ephemeral ticket signing key; tickets will not verify after restart")
	signer, err := security.NewEphemeralTicketSigner()
	if err != nil {
		return nil, fmt.Errorf("init ephemeral ticket signer: %w", err)
	}
	return signer, nil
}

func newTokenVerifier(cfg Config, logger *slog.Logger) (*security.JWTVerifier, error) {
	switch {
	case cfg.JWTPublicKeyPEM != "":
		verifier, err := security.NewJWTVerifier(cfg.JWTPublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("init jwt verifier: %w", err)
		}
		return verifier, nil
	case cfg.JWTPrivateKeyPEM != "":
		signer, err := security.NewJWTSigner(cfg.JWTKeyID, cfg.JWTPrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		return signer, nil
	}
	logger.Warn("using ephemeral JWT keys for local/dev runtime")
	signer, err := security.NewEphemeralJWTSigner(cfg.JWTKeyID)
	if err != nil {
		return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
	}
	return signer, nil
}

func seedMemory(store *memory.Store, seed SeedData) error {
	for _, p := range seed.Products {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return fmt.Errorf("seed product %q: %w", p.ID, err)
		}
		store.AddProduct(domain.Product{ProductID: id, Name: p.Name, Blocked: p.Blocked})
	}
	for _, t := range seed.LicenseTypes {
		id, err := uuid.Parse(t.ID)
		if err != nil {
			return fmt.Errorf("seed license type %q: %w", t.ID, err)
		}
		store.AddLicenseType(domain.LicenseType{
			LicenseTypeID:       id,
			Name:                t.Name,
			DefaultDurationDays: t.DefaultDurationDays,
			Description:         t.Description,
		})
	}
	for _, u := range seed.Users {
		id, err := uuid.Parse(u.ID)
		if err != nil {
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
		role := u.Role
		if role == "" {
			role = domain.RoleUser
		}
		store.AddUser(domain.User{UserID: id, Email: u.Email, Username: u.Username, Role: role})
	}
	return nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", r.cfg.GRPCPort))
	if err != nil {
		r.cleanupFn(ctx)
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", lis.Addr().String())
		if err := r.grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	// The in-memory outbox is invisible to a separate worker process.
	if r.cfg.StorageBackend == StorageMemory {
		go func() {
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		r.logger.Error("server failure", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return runErr
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.cfg.StorageBackend == StorageMemory {
		r.logger.Warn("outbox worker has nothing to drain with in-memory storage")
	}
	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
