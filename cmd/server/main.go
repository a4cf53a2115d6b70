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
	"github.com/spf13/viper"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/config"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/database"
	"github.com/Bongo-George/The-Idempotent-Wallet/internal/services"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.name", "DB_NAME")
	viper.BindEnv("database.ssl_mode", "DB_SSL_MODE")

	viper.BindEnv("redis.host", "CACHE_HOST")
	viper.BindEnv("redis.port", "CACHE_PORT")
	viper.BindEnv("redis.password", "CACHE_PASSWORD")
	viper.BindEnv("redis.db", "CACHE_DB")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	tuning := config.LoadIdempotencyTuning()
	idempotencyCfg := services.IdempotencyConfig{
		KeyPrefix:     tuning.KeyPrefix,
		CacheTTL:      tuning.CacheTTL,
		LeaseTTL:      tuning.LeaseTTL,
		RetryAttempts: tuning.RetryAttempts,
		RetryInterval: tuning.RetryInterval,
	}

	walletService := services.NewWalletService(db, redisClient, idempotencyCfg)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		services := map[string]string{"database": "up", "cache": "up"}
		overall := "ok"
		code := http.StatusOK

		if err := db.PingContext(r.Context()); err != nil {
			overall = "degraded"
			services["database"] = "down"
			code = http.StatusServiceUnavailable
		}
		if redisClient == nil {
			services["cache"] = "disabled"
		} else if err := redisClient.Ping(r.Context()).Err(); err != nil {
			overall = "degraded"
			services["cache"] = "down"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{"status": overall, "services": services})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transfer", walletService.Transfer)
		r.Get("/wallet/{id}/balance", walletService.GetBalance)
		r.Get("/wallet/{id}/transactions", walletService.GetHistory)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
