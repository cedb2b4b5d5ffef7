package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/config"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/logging"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/mailbox"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/media"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/notify"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/localfs"
	miniostore "github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/minio"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/ports"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/repository/postgres"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/service"
	transport "github.com/zulfikar2701/sakae-riken-screws-detection/internal/transport/http"
	"github.com/zulfikar2701/sakae-riken-screws-detection/internal/worker"
)

func main() {
	cfg := config.Load()

	if cfg.LogstashTCPAddr != "" {
		writer, err := logging.NewLogstashWriter(cfg.LogstashTCPAddr, logging.WriterConfig{})
		if err != nil {
			log.Printf("logstash mirror disabled: %v", err)
		} else {
			defer func() { _ = writer.Close() }()
			log.SetOutput(io.MultiWriter(os.Stderr, writer))
		}
	}

	db, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := postgres.Migrate(db); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	keys := mailbox.NewKeyScheme(cfg.UnlabelledPrefix, cfg.LabelledPrefix)

	var (
		store      ports.ObjectStore
		presigner  ports.PostPresigner
		localStore *localfs.Store
	)
	switch strings.ToLower(cfg.StorageBackend) {
	case "local", "localfs":
		ls, err := localfs.NewStore(localfs.Config{
			Root:    cfg.LocalStoreDir,
			SignKey: cfg.JWTSecret,
			PostURL: devBucketURL(cfg),
		})
		if err != nil {
			log.Fatalf("open local store: %v", err)
		}
		store, presigner, localStore = ls, ls, ls
		log.Printf("storage backend: local directory %s", cfg.LocalStoreDir)
	default:
		client, err := miniostore.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
		if err != nil {
			log.Fatalf("connect minio: %v", err)
		}
		ms := miniostore.NewStore(client, cfg.Bucket, cfg.MinIOPublicURL)
		store, presigner = ms, ms
		log.Printf("storage backend: minio bucket %s", cfg.Bucket)
	}

	ensureCtx, cancelEnsure := context.WithTimeout(context.Background(), 15*time.Second)
	if err := store.EnsureBucket(ensureCtx); err != nil {
		cancelEnsure()
		log.Fatalf("ensure bucket: %v", err)
	}
	cancelEnsure()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			log.Printf("telegram notifier disabled: %v", err)
		} else {
			notifier = tg
			log.Printf("telegram notifier enabled for chat %d", cfg.TelegramChatID)
		}
	}

	inspections := service.NewInspectionService(
		postgres.NewInspectionRepo(db),
		store,
		presigner,
		notifier,
		keys,
		service.InspectionServiceConfig{
			MaxImageBytes:     cfg.ImageMaxBytes,
			AllowedMIMETypes:  cfg.AllowedImageTypes,
			ImageProcessor:    media.NewFFMPEGProcessor(cfg.FFmpegPath, cfg.ImageMaxDimension),
			ImageMaxDimension: cfg.ImageMaxDimension,
			PresignTTL:        cfg.PresignTTL,
			Upload: mailbox.UploaderConfig{
				MaxAttempts: cfg.UploadMaxAttempts,
				RetryDelay:  cfg.UploadRetryDelay,
			},
			Poll: mailbox.PollerConfig{
				InitialDelay: cfg.PollInitialDelay,
				Interval:     cfg.PollInterval,
				MaxAttempts:  cfg.PollMaxAttempts,
			},
			Workers:   cfg.BackgroundWorkers,
			QueueSize: cfg.BackgroundQueueSize,
		},
	)

	auth, err := service.NewAuthService(cfg.OperatorKey, cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		log.Fatalf("build auth service: %v", err)
	}

	e := transport.NewRouter(cfg.AllowOrigins)
	transport.RegisterAuth(e, auth)
	transport.RegisterInspections(e, auth, inspections)
	transport.RegisterSwagger(e)
	if localStore != nil {
		transport.RegisterDevBucket(e, localStore)
	}

	var loopback *worker.Loopback
	if cfg.LoopbackWorker {
		watchDir := ""
		if localStore != nil {
			watchDir = filepath.Join(localStore.Root(), filepath.FromSlash(keys.UnlabelledPrefix()))
		}
		loopback = worker.NewLoopback(store, keys, worker.LoopbackConfig{
			Delay:         cfg.LoopbackDelay,
			SweepInterval: cfg.LoopbackSweepInterval,
			WatchDir:      watchDir,
		})
		if err := loopback.Start(); err != nil {
			log.Printf("loopback worker failed to start: %v", err)
			loopback = nil
		} else {
			log.Printf("loopback worker labelling after %s", cfg.LoopbackDelay)
		}
	}

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if loopback != nil {
		loopback.Stop()
	}
	if err := inspections.Shutdown(shutdownCtx); err != nil {
		log.Printf("inspection service shutdown: %v", err)
	}
}

// devBucketURL is where localfs presigned forms get posted, normally the
// gateway's own dev upload route.
func devBucketURL(cfg config.Config) string {
	base := strings.TrimSuffix(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "http://localhost:" + cfg.Port
	}
	return base + "/api/v1/dev/bucket"
}
