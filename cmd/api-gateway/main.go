package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-school-api/api/swagger"
	"github.com/noah-isme/sma-school-api/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-school-api/internal/middleware"
	"github.com/noah-isme/sma-school-api/internal/repository"
	"github.com/noah-isme/sma-school-api/internal/service"
	"github.com/noah-isme/sma-school-api/pkg/cache"
	"github.com/noah-isme/sma-school-api/pkg/config"
	"github.com/noah-isme/sma-school-api/pkg/database"
	"github.com/noah-isme/sma-school-api/pkg/jobs"
	"github.com/noah-isme/sma-school-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-school-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-school-api/pkg/response"
	"github.com/noah-isme/sma-school-api/pkg/storage"
)

// @title School Administration API
// @version 1.0.0
// @description Multi-tenant school administration backend
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const exportCleanupInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	response.ShowDetails(cfg.Env != config.EnvProduction)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	metricsSvc := service.NewMetricsService()
	probes := map[string]handler.Pinger{"postgres": db}

	cacheStore, closeCache := buildCacheStore(ctx, cfg, logr)
	defer closeCache()
	if rp, ok := cacheStore.(redisProbe); ok {
		probes["redis"] = rp
	}
	cacheSvc := service.NewCacheService(cacheStore, metricsSvc, cfg.Cache.DefaultTTL, logr, true)

	txManager := database.NewTxManager(db, database.TxOptions{
		MaxAttempts: cfg.Transaction.MaxAttempts,
		Backoff:     cfg.Transaction.Backoff,
		Logger:      logr,
		Observer:    metricsSvc,
	})

	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), nil, metricsSvc, logr)
	auditQueue := jobs.NewQueue("audit", auditSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: 100 * time.Millisecond,
		OnGiveUp:   auditSvc.GiveUp,
		Logger:     logr,
	})
	auditSvc.AttachQueue(auditQueue)
	// stopped after the HTTP server has drained so late requests still audit
	auditQueue.Start(context.WithoutCancel(ctx))
	defer auditQueue.Stop()

	services, err := buildServices(cfg, db, txManager, cacheSvc, auditSvc, logr)
	if err != nil {
		logr.Fatal("failed to build services", zap.Error(err))
	}
	go runExportCleanup(ctx, services.exports, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(corsmiddleware.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxAge:         cfg.CORS.MaxAge,
		ExposeHeaders:  []string{reqidmiddleware.Header},
	}))
	r.Use(internalmiddleware.Metrics(metricsSvc))
	r.Use(internalmiddleware.RequestTimer())

	registerRoutes(r, cfg, services, handler.NewMetricsHandler(metricsSvc, probes))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "cache", cfg.Cache.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

type appServices struct {
	auth       *service.AuthService
	users      *service.UserService
	schools    *service.SchoolService
	workspaces *service.WorkspaceService
	classes    *service.ClassService
	students   *service.StudentService
	subjects   *service.SubjectService
	scores     *service.ScoreService
	attendance *service.AttendanceService
	fees       *service.FeeService
	payments   *service.PaymentService
	dashboard  *service.DashboardService
	exports    *service.ExportService
	audit      *service.AuditService
}

func buildServices(cfg *config.Config, db *sqlx.DB, tx *database.TxManager, cacheSvc *service.CacheService, auditSvc *service.AuditService, logr *zap.Logger) (*appServices, error) {
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	schoolRepo := repository.NewSchoolRepository(db)
	classRepo := repository.NewClassRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	workspaceRepo := repository.NewWorkspaceRepository(db)

	workspaces := service.NewWorkspaceService(workspaceRepo, schoolRepo, classRepo, logr)
	schools := service.NewSchoolService(schoolRepo, workspaces, tx, cacheSvc, auditSvc, validate, logr, service.SchoolConfig{
		TrialPeriod:     cfg.Tenant.TrialPeriod,
		DefaultTimezone: cfg.Tenant.DefaultTimezone,
		DefaultCurrency: cfg.Tenant.DefaultCurrency,
	})
	auth := service.NewAuthService(userRepo, schools, workspaces, tx, cacheSvc, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		RefreshTokenSecret: cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})
	scores := service.NewScoreService(scoreRepo, classRepo, studentRepo, subjectRepo, tx, auditSvc, validate, logr)
	payments := service.NewPaymentService(paymentRepo, feeRepo, studentRepo, classRepo, tx, cacheSvc, auditSvc, validate, logr)

	localStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}

	return &appServices{
		auth:       auth,
		users:      service.NewUserService(userRepo, classRepo, studentRepo, scoreRepo, tx, cacheSvc, auditSvc, validate, logr),
		schools:    schools,
		workspaces: workspaces,
		classes:    service.NewClassService(classRepo, studentRepo, workspaces, schools, tx, cacheSvc, auditSvc, validate, logr),
		students:   service.NewStudentService(studentRepo, classRepo, workspaces, schools, tx, cacheSvc, auditSvc, validate, logr),
		subjects:   service.NewSubjectService(subjectRepo, validate, logr),
		scores:     scores,
		attendance: service.NewAttendanceService(attendanceRepo, classRepo, studentRepo, tx, cacheSvc, validate, logr),
		fees:       service.NewFeeService(feeRepo, classRepo, validate, logr),
		payments:   payments,
		dashboard: service.NewDashboardService(service.DashboardServiceParams{
			Users:      userRepo,
			Schools:    schools,
			Subjects:   subjectRepo,
			Payments:   paymentRepo,
			Attendance: attendanceRepo,
			Cache:      cacheSvc,
			Logger:     logr,
			Config:     service.DashboardServiceConfig{CacheTTL: cfg.Cache.DashboardTTL},
		}),
		exports: service.NewExportService(service.ExportServiceParams{
			Scores:    scores,
			Classes:   classRepo,
			Subjects:  subjectRepo,
			Payments:  payments,
			Storage:   localStorage,
			Signer:    storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
			Validator: validate,
			Logger:    logr,
			Config:    service.ExportConfig{APIPrefix: cfg.APIPrefix},
		}),
		audit: auditSvc,
	}, nil
}

// redisProbe adapts the redis cache for the readiness check.
type redisProbe struct {
	*repository.CacheRepository
	client *redis.Client
}

func (p redisProbe) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// buildCacheStore returns the configured aggregate cache and its closer. A
// redis outage at boot falls back to the in-process store.
func buildCacheStore(ctx context.Context, cfg *config.Config, logr *zap.Logger) (service.CacheStore, func()) {
	memory := func() (service.CacheStore, func()) {
		return cache.NewMemoryStore(cfg.Cache.DefaultTTL, cfg.Cache.MaxEntries), func() {}
	}
	if cfg.Cache.Driver != config.CacheDriverRedis {
		return memory()
	}
	client, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		return memory()
	}
	repo := repository.NewCacheRepository(client, "school-api:", logr)
	return redisProbe{CacheRepository: repo, client: client}, func() { _ = repo.Close() }
}

func runExportCleanup(ctx context.Context, exports *service.ExportService, logr *zap.Logger) {
	ticker := time.NewTicker(exportCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := exports.Cleanup(0); err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
			}
		}
	}
}

func apiPrefix(cfg *config.Config) string {
	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	if prefix == "/" {
		return ""
	}
	return prefix
}
