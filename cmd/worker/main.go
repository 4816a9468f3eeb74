package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"lingopipe/internal/domain/usecase"
	"lingopipe/internal/inference"
	"lingopipe/internal/metrics"
	psqlRepo "lingopipe/internal/repository/psql"
	rmqRepo "lingopipe/internal/repository/rabbitmq"
	redisRepo "lingopipe/internal/repository/redis"
	s3Repo "lingopipe/internal/repository/s3"
	"lingopipe/internal/transcoder"
	"lingopipe/pkg/client/psql"
	redisClient "lingopipe/pkg/client/redis"
	s3Client "lingopipe/pkg/client/s3"
)

type Config struct {
	MetricsAddr string
	WorkDir     string

	RedisAddr string
	RedisDB   int

	PSQLHost     string
	PSQLPort     int
	PSQLUser     string
	PSQLPassword string
	PSQLDBName   string
	PSQLSSLMode  string

	S3Host      string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	RabbitMQURL string

	InferenceURL     string
	InferenceTimeout time.Duration
}

func main() {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	db, err := psql.NewPostgresDB(psql.Config{
		Host:     cfg.PSQLHost,
		User:     cfg.PSQLUser,
		Password: cfg.PSQLPassword,
		DBName:   cfg.PSQLDBName,
		Port:     cfg.PSQLPort,
		SslMode:  cfg.PSQLSSLMode,
	})
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}

	rdb, err := redisClient.NewRedisClient(ctx, redisClient.Config{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err != nil {
		log.Fatalf("redis: %v", err)
	}

	storage, err := s3Client.NewS3Client(cfg.S3Host, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket)
	if err != nil {
		log.Fatalf("s3: %v", err)
	}

	conn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("rabbitmq: %v", err)
	}
	defer conn.Close()

	jobRepo := psqlRepo.NewJobRepo(db)
	ledgerRepo := psqlRepo.NewLedgerRepo(db)
	mediaRepo := s3Repo.NewMediaRepo(storage)
	progressRepo := redisRepo.NewProgressRepo(rdb)

	pipeline := usecase.NewPipelineUseCase(
		jobRepo,
		ledgerRepo,
		mediaRepo,
		transcoder.New(),
		inference.NewClient(cfg.InferenceURL, cfg.InferenceTimeout),
		progressRepo,
		cfg.WorkDir,
		logger,
	)

	consumer, err := rmqRepo.NewTaskConsumer(conn, pipeline, logger)
	if err != nil {
		log.Fatalf("rabbitmq consumer: %v", err)
	}

	maintenance := usecase.NewMaintenanceUseCase(jobRepo, mediaRepo, logger)
	go maintenance.Run(ctx, 5*time.Minute, time.Hour)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	logger.Info("worker started")
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("consumer: %v", err)
	}
	logger.Info("worker stopped")
}

func loadConfig() Config {
	if err := godotenv.Load("./.env.local"); err != nil {
		log.Println("No .env file found. Falling back to OS environment variables.")
	}
	mustGetEnv := func(key string) string {
		val := os.Getenv(key)
		if val == "" {
			log.Fatalf("Environment variable %s is not set", key)
		}
		return val
	}

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9090"
	}

	workDir := os.Getenv("WORK_DIR")
	if workDir == "" {
		workDir = os.TempDir()
	}

	redisDBStr := os.Getenv("REDIS_DB")
	if redisDBStr == "" {
		redisDBStr = "0"
	}
	redisDB, err := strconv.Atoi(redisDBStr)
	if err != nil {
		log.Fatalf("Invalid REDIS_DB value: %v", err)
	}

	psqlPort, err := strconv.Atoi(mustGetEnv("PSQL_PORT"))
	if err != nil {
		log.Fatalf("Invalid PSQL_PORT value: %v", err)
	}

	inferenceTimeout := 10 * time.Minute
	if v := os.Getenv("INFERENCE_TIMEOUT_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid INFERENCE_TIMEOUT_SEC value: %v", err)
		}
		inferenceTimeout = time.Duration(sec) * time.Second
	}

	rmqUser := mustGetEnv("RABBITMQ_USER")
	rmqPassword := mustGetEnv("RABBITMQ_PASSWORD")
	rmqHost := mustGetEnv("RABBITMQ_HOST")
	rmqPort := mustGetEnv("RABBITMQ_PORT")
	rabbitMQURL := "amqp://" + rmqUser + ":" + rmqPassword + "@" + rmqHost + ":" + rmqPort + "/"

	return Config{
		MetricsAddr: metricsAddr,
		WorkDir:     workDir,

		RedisAddr: mustGetEnv("REDIS_HOST") + ":" + mustGetEnv("REDIS_PORT"),
		RedisDB:   redisDB,

		PSQLHost:     mustGetEnv("PSQL_HOST"),
		PSQLPort:     psqlPort,
		PSQLUser:     mustGetEnv("PSQL_USER"),
		PSQLPassword: mustGetEnv("PSQL_PASSWORD"),
		PSQLDBName:   mustGetEnv("PSQL_DB"),
		PSQLSSLMode:  mustGetEnv("PSQL_SSLMODE"),

		S3Host:      mustGetEnv("S3_HOST") + ":" + mustGetEnv("S3_PORT"),
		S3Bucket:    mustGetEnv("S3_BUCKET"),
		S3AccessKey: mustGetEnv("S3_ACCESS_KEY"),
		S3SecretKey: mustGetEnv("S3_SECRET_KEY"),

		RabbitMQURL: rabbitMQURL,

		InferenceURL:     mustGetEnv("INFERENCE_URL"),
		InferenceTimeout: inferenceTimeout,
	}
}
