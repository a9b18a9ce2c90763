package main

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/asap007/ninisina-test/internal/config"
	"github.com/asap007/ninisina-test/internal/consultation"
	"github.com/asap007/ninisina-test/internal/gateway"
	"github.com/asap007/ninisina-test/internal/pipeline"
	"github.com/asap007/ninisina-test/internal/report"
)

func main() {
	cfg := config.Load()

	// 1. Infrastructure
	var db *sql.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err == nil {
			err = db.Ping()
		}
		if err == nil {
			break
		}
		fmt.Printf("Waiting for DB... (%d/10)\n", i+1)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		log.Fatalf("Could not connect to DB: %v", err)
	}
	log.Println("Connected to Database.")

	m, err := migrate.New("file://migrations", cfg.DatabaseURL)
	if err != nil {
		log.Printf("Migration init failed: %v", err)
	} else if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Printf("Migration up failed: %v", err)
	} else {
		log.Println("Migrations applied successfully!")
	}

	// 2. Clients and services
	aiClient := gateway.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel)
	store := consultation.NewStore(db)
	orchestrator := pipeline.NewOrchestrator(aiClient, store, cfg.AIModel)
	reportSvc := report.NewService()
	handler := consultation.NewHandler(store, orchestrator, aiClient, reportSvc)

	// 3. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for frontend
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, PATCH, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
			if r.Method == "OPTIONS" {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, handler)
	})

	fmt.Printf("Server starting on port %s...\n", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
