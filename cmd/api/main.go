package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	v1 "lingopipe/internal/controller/http/v1"
	"lingopipe/internal/domain/entity"
	"lingopipe/internal/domain/usecase"
	"lingopipe/internal/metrics"
	"lingopipe/internal/payments"
	psqlRepo "lingopipe/internal/repository/psql"
	rmqRepo "lingopipe/internal/repository/rabbitmq"
	redisRepo "lingopipe/internal/repository/redis"
	s3Repo "lingopipe/internal/repository/s3"
	"lingopipe/internal/transcoder"
	"lingopipe/pkg/client/psql"
	redisClient "lingopipe/pkg/client/redis"
	s3Client "lingopipe/pkg/client/s3"
	"lingopipe/pkg/middleware"
)

type Config struct {
	HTTPAddr string

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

	JWTSecret string

	PaymentBaseURL       string
	PaymentAccessToken   string
	PaymentWebhookSecret string
}

func main() {
	cfg := loadConfig()
	ctx := context.Background()

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

	if err := db.AutoMigrate(
		&entity.User{},
		&entity.Job{},
		&entity.CreditTransaction{},
		&entity.Payment{},
		&entity.PricingTier{},
	); err != nil {
		log.Fatalf("migrate: %v", err)
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

	publisher, err := rmqRepo.NewTaskPublisher(conn)
	if err != nil {
		log.Fatalf("rabbitmq publisher: %v", err)
	}

	jobRepo := psqlRepo.NewJobRepo(db)
	ledgerRepo := psqlRepo.NewLedgerRepo(db)
	billingRepo := psqlRepo.NewBillingRepo(db, ledgerRepo)
	mediaRepo := s3Repo.NewMediaRepo(storage)
	progressRepo := redisRepo.NewProgressRepo(rdb)
	gateway := payments.NewGateway(cfg.PaymentBaseURL, cfg.PaymentAccessToken, cfg.PaymentWebhookSecret)

	if err := billingRepo.EnsureDefaultTiers(ctx); err != nil {
		log.Fatalf("seed pricing tiers: %v", err)
	}

	jobUC := usecase.NewJobUseCase(jobRepo, mediaRepo, progressRepo, logger)
	dispatchUC := usecase.NewDispatchUseCase(jobRepo, ledgerRepo, ledgerRepo, mediaRepo, publisher, transcoder.New(), usecase.NewEstimator(), logger)
	billingUC := usecase.NewBillingUseCase(billingRepo, ledgerRepo, ledgerRepo, gateway, logger)

	jobHandler := v1.NewJobHandler(jobUC, dispatchUC, mediaRepo)
	billingHandler := v1.NewBillingHandler(billingUC, "X-Webhook-Signature")

	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// The webhook and public pricing live outside auth; the gateway signs
	// webhooks instead of carrying a token.
	public := r.Group("/api/v1")
	{
		public.GET("/billing/pricing", billingHandler.GetPricing)
		public.POST("/billing/webhook", billingHandler.HandleWebhook)
	}

	authed := r.Group("/api/v1")
	authed.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
	authed.Use(middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RedisClient: rdb,
		Limit:       10,
		Window:      time.Second,
	}))
	{
		authed.POST("/media", jobHandler.UploadMedia)
		authed.POST("/jobs", jobHandler.CreateJob)
		authed.GET("/jobs", jobHandler.ListJobs)
		authed.GET("/jobs/:job_id", jobHandler.GetJob)
		authed.POST("/jobs/:job_id/dispatch", jobHandler.DispatchJob)
		authed.GET("/jobs/:job_id/stream", jobHandler.StreamJob)
		authed.GET("/jobs/:job_id/download", jobHandler.DownloadJob)

		authed.GET("/billing/balance", billingHandler.GetBalance)
		authed.GET("/billing/transactions", billingHandler.GetTransactions)
		authed.POST("/billing/checkout", billingHandler.CreateCheckout)
		authed.POST("/admin/credits", billingHandler.GrantCredits)
	}

	logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("http server: %v", err)
	}
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

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
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

	rmqUser := mustGetEnv("RABBITMQ_USER")
	rmqPassword := mustGetEnv("RABBITMQ_PASSWORD")
	rmqHost := mustGetEnv("RABBITMQ_HOST")
	rmqPort := mustGetEnv("RABBITMQ_PORT")
	rabbitMQURL := "amqp://" + rmqUser + ":" + rmqPassword + "@" + rmqHost + ":" + rmqPort + "/"

	return Config{
		HTTPAddr: httpAddr,

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

		JWTSecret: mustGetEnv("JWT_SECRET"),

		PaymentBaseURL:       mustGetEnv("PAYMENT_API_URL"),
		PaymentAccessToken:   mustGetEnv("PAYMENT_ACCESS_TOKEN"),
		PaymentWebhookSecret: mustGetEnv("PAYMENT_WEBHOOK_SECRET"),
	}
}
