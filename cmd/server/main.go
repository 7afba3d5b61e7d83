package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/luminapix/backend/internal/config"
	"github.com/luminapix/backend/internal/database"
	"github.com/luminapix/backend/internal/engine"
	"github.com/luminapix/backend/internal/handlers"
	mW "github.com/luminapix/backend/internal/middleware"
	"github.com/luminapix/backend/internal/queue"
	"github.com/luminapix/backend/internal/services"
	"github.com/luminapix/backend/internal/storage"
	"github.com/luminapix/backend/internal/worker"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title LuminaPix Backend API
// @version 1.0
// @description Credit-metered asynchronous image enhancement and upscaling
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("engine.url", "ENGINE_URL")
	viper.SetDefault("engine.url", "http://localhost:9090")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	queueCfg := config.LoadQueueConfig()
	workerCfg := config.LoadWorkerConfig()
	retentionCfg := config.LoadRetentionConfig()
	webhookCfg := config.LoadWebhookConfig()
	storageCfg := config.LoadStorageConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient, err := database.InitRedis()
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer redisClient.Close()

	store, err := storage.NewLocalStore(storageCfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	taskQueue := queue.NewRedisQueue(redisClient, queueCfg)
	ledgerService := services.NewLedgerService(db)
	jobService := services.NewJobService(db, ledgerService)
	estimator := services.NewCostEstimator()
	notifier := services.NewNotifierService(webhookCfg)
	retention := services.NewRetentionService(store, retentionCfg)
	dispatcher := services.NewDispatchService(taskQueue, jobService, notifier, retention)

	transformEngine := engine.NewHTTPEngine(viper.GetString("engine.url"), queueCfg.SoftTimeLimit)
	pool := worker.NewPool(taskQueue, jobService, dispatcher, store, transformEngine, queueCfg, workerCfg)

	imageHandler := handlers.NewImageHandler(db, jobService, ledgerService, estimator, dispatcher, store, storageCfg)
	creditHandler := handlers.NewCreditHandler(ledgerService)

	retention.Start()
	defer retention.Stop()
	pool.Start()

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	r.Handle(storageCfg.URLPrefix+"/*", http.StripPrefix(storageCfg.URLPrefix+"/",
		mW.ArtifactFileServer(storageCfg.Path)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/images/process", imageHandler.ProcessImages)
			r.Get("/images/status/{jobID}", imageHandler.JobStatus)
			r.Get("/images/jobs", imageHandler.ListJobs)
			r.Delete("/images/jobs/{jobID}", imageHandler.CancelJob)
			r.Get("/images/download/{jobID}/{index}", imageHandler.DownloadResult)

			r.Get("/credits/balance", creditHandler.Balance)
			r.Get("/credits/transactions", creditHandler.Transactions)
			r.Post("/credits/purchase", creditHandler.Purchase)
			r.Post("/credits/grant", creditHandler.Grant)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	pool.Stop()
	log.Println("Server stopped")
}
