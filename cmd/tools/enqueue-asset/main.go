// Command enqueue-asset registers an uploaded object in the datastore and
// queues it for processing. Intended for operators and local testing; the
// application layer normally does this itself.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mediaforge/internal/models"
	"mediaforge/internal/queue"
	"mediaforge/internal/storage"
)

func main() {
	_ = godotenv.Load()

	var (
		kind          = flag.String("kind", "", "asset kind: image, video, audio, or file")
		bucket        = flag.String("bucket", "", "bucket holding the raw object")
		objectKey     = flag.String("key", "", "object key of the raw upload")
		fileName      = flag.String("file-name", "", "original file name")
		storageDriver = flag.String("storage-driver", "", "datastore driver: json or postgres")
		dataPath      = flag.String("data-path", "", "path to the JSON datastore file")
		postgresDSN   = flag.String("postgres-dsn", "", "Postgres connection string")
		redisAddr     = flag.String("redis-addr", "", "Redis address host:port")
		redisPassword = flag.String("redis-password", "", "Redis password")
	)
	flag.Parse()

	assetKind, ok := models.ParseAssetKind(*kind)
	if !ok {
		fatalf("invalid --kind %q, expected image, video, audio, or file", *kind)
	}
	if strings.TrimSpace(*bucket) == "" || strings.TrimSpace(*objectKey) == "" {
		fatalf("--bucket and --key are required")
	}

	repo, err := openRepository(*storageDriver, *dataPath, *postgresDSN)
	if err != nil {
		fatalf("datastore init failed: %v", err)
	}
	defer repo.Close()

	asset, err := repo.CreateAsset(storage.CreateAssetParams{
		Kind:      assetKind,
		Bucket:    strings.TrimSpace(*bucket),
		ObjectKey: strings.TrimSpace(*objectKey),
		FileName:  strings.TrimSpace(*fileName),
	})
	if err != nil {
		fatalf("create asset: %v", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{firstNonEmpty(*redisAddr, os.Getenv("MEDIAFORGE_REDIS_ADDR"), "127.0.0.1:6379")},
		Password: firstNonEmpty(*redisPassword, os.Getenv("MEDIAFORGE_REDIS_PASSWORD")),
	})
	defer client.Close()

	producer := queue.NewProducer(client, queue.Config{
		Stream: os.Getenv("MEDIAFORGE_TASK_STREAM"),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Enqueue(ctx, queue.Task{AssetID: asset.ID}); err != nil {
		fatalf("enqueue: %v", err)
	}

	fmt.Println(asset.ID)
}

func openRepository(flagDriver, flagDataPath, flagDSN string) (storage.Repository, error) {
	dsn := firstNonEmpty(flagDSN, os.Getenv("MEDIAFORGE_POSTGRES_DSN"), os.Getenv("DATABASE_URL"))
	driver := strings.ToLower(firstNonEmpty(flagDriver, os.Getenv("MEDIAFORGE_STORAGE_DRIVER")))
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "json"
		}
	}
	switch driver {
	case "json":
		path := firstNonEmpty(flagDataPath, os.Getenv("MEDIAFORGE_DATA_PATH"), "data/assets.json")
		return storage.NewMemoryRepository(path)
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			ApplicationName: "mediaforge-enqueue",
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
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

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
