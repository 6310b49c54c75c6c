// Command worker consumes the processing queue and runs the media pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/notify"
	"mediaforge/internal/objectstore"
	"mediaforge/internal/observability/logging"
	"mediaforge/internal/observability/metrics"
	"mediaforge/internal/pipeline"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
	"mediaforge/internal/worker"
)

func main() {
	// Best effort: a missing .env is the normal case in production.
	_ = godotenv.Load()

	var (
		logLevel      = flag.String("log-level", "", "log level: debug, info, warn, error")
		logFormat     = flag.String("log-format", "", "log format: json or text")
		storageDriver = flag.String("storage-driver", "", "datastore driver: json or postgres")
		dataPath      = flag.String("data-path", "", "path to the JSON datastore file")
		postgresDSN   = flag.String("postgres-dsn", "", "Postgres connection string")
		redisAddr     = flag.String("redis-addr", "", "Redis address host:port")
		redisPassword = flag.String("redis-password", "", "Redis password")
		s3Endpoint    = flag.String("s3-endpoint", "", "S3-compatible endpoint URL")
		s3Region      = flag.String("s3-region", "", "S3 region")
		s3Bucket      = flag.String("s3-bucket", "", "bucket holding raw and processed objects")
		s3AccessKey   = flag.String("s3-access-key", "", "S3 access key")
		s3SecretKey   = flag.String("s3-secret-key", "", "S3 secret key")
		s3PathStyle   = flag.Bool("s3-path-style", false, "use path-style S3 addressing")
		workers       = flag.Int("workers", 0, "concurrent processing slots")
		httpAddr      = flag.String("http-addr", "", "address for the metrics and health endpoints")
		workDir       = flag.String("work-dir", "", "scratch directory for transcode output")
		ffmpegBin     = flag.String("ffmpeg", "", "ffmpeg binary")
		ffprobeBin    = flag.String("ffprobe", "", "ffprobe binary")
	)
	flag.Parse()

	logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAFORGE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAFORGE_LOG_FORMAT")),
	})
	logger := slog.Default()

	repo, err := openRepository(*storageDriver, *dataPath, *postgresDSN)
	if err != nil {
		logger.Error("datastore init failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:     firstNonEmpty(*s3Endpoint, os.Getenv("MEDIAFORGE_S3_ENDPOINT")),
		Region:       firstNonEmpty(*s3Region, os.Getenv("MEDIAFORGE_S3_REGION")),
		Bucket:       firstNonEmpty(*s3Bucket, os.Getenv("MEDIAFORGE_S3_BUCKET")),
		AccessKey:    firstNonEmpty(*s3AccessKey, os.Getenv("MEDIAFORGE_S3_ACCESS_KEY")),
		SecretKey:    firstNonEmpty(*s3SecretKey, os.Getenv("MEDIAFORGE_S3_SECRET_KEY")),
		UsePathStyle: resolveBool(*s3PathStyle, "MEDIAFORGE_S3_PATH_STYLE"),
	})
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{resolveRedisAddr(*redisAddr, os.Getenv("MEDIAFORGE_REDIS_ADDR"))},
		Password: firstNonEmpty(*redisPassword, os.Getenv("MEDIAFORGE_REDIS_PASSWORD")),
	})
	defer redisClient.Close()

	recorder := metrics.Default()
	notifier := notify.NewRedisNotifier(redisClient,
		os.Getenv("MEDIAFORGE_EVENT_STREAM"), 0, logger)

	orchestrator, err := pipeline.NewOrchestrator(pipeline.Config{
		Repository: repo,
		Store:      store,
		Notifier:   notifier,
		Metrics:    recorder,
		Logger:     logger,
		WorkDir:    firstNonEmpty(*workDir, os.Getenv("MEDIAFORGE_WORK_DIR")),
		Tools: pipeline.Tools{
			FFmpeg:  firstNonEmpty(*ffmpegBin, os.Getenv("MEDIAFORGE_FFMPEG")),
			FFprobe: firstNonEmpty(*ffprobeBin, os.Getenv("MEDIAFORGE_FFPROBE")),
		},
	})
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		os.Exit(1)
	}

	queueCfg := queue.Config{
		Stream:   os.Getenv("MEDIAFORGE_TASK_STREAM"),
		Group:    os.Getenv("MEDIAFORGE_TASK_GROUP"),
		Consumer: resolveConsumerName(os.Getenv("MEDIAFORGE_CONSUMER_NAME")),
		Workers:  resolveInt(*workers, "MEDIAFORGE_WORKERS"),
	}
	producer := queue.NewProducer(redisClient, queueCfg)
	pool := worker.NewPool(worker.Config{
		Store:     repo,
		Processor: orchestrator,
		Requeuer:  producer,
		Metrics:   recorder,
		Logger:    logger,
	})

	httpServer := startHTTPServer(resolveHTTPAddr(*httpAddr, os.Getenv("MEDIAFORGE_HTTP_ADDR")), repo, recorder, logger)

	pool.RecoverPending(ctx)

	consumer := queue.NewConsumer(redisClient, queueCfg, logger)
	logger.Info("worker started",
		"stream", queueCfg.Stream, "workers", queueCfg.Workers, "bucket", store.Bucket())
	if err := consumer.Run(ctx, pool.Handle); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := pool.Drain(shutdownCtx); err != nil {
		logger.Warn("retry timers still pending at shutdown", "error", err)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	logger.Info("worker stopped")
}

func openRepository(flagDriver, flagDataPath, flagDSN string) (storage.Repository, error) {
	dsn := firstNonEmpty(flagDSN, os.Getenv("MEDIAFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver, err := resolveStorageDriver(flagDriver, os.Getenv("MEDIAFORGE_STORAGE_DRIVER"), dsn)
	if err != nil {
		return nil, err
	}
	switch driver {
	case "json":
		return storage.NewMemoryRepository(resolveDataPath(flagDataPath, os.Getenv("MEDIAFORGE_DATA_PATH")))
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "mediaforge-worker",
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

func startHTTPServer(addr string, repo storage.Repository, recorder *metrics.Recorder, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			http.Error(w, "datastore unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()
	return server
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if path := firstNonEmpty(flagValue, envValue); path != "" {
		return path
	}
	return "data/assets.json"
}

func resolveRedisAddr(flagValue, envValue string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

func resolveHTTPAddr(flagValue, envValue string) string {
	if addr := firstNonEmpty(flagValue, envValue); addr != "" {
		return addr
	}
	return ":9090"
}

func resolveConsumerName(envValue string) string {
	if name := strings.TrimSpace(envValue); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "consumer-1"
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
