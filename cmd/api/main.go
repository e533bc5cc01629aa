package main

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"gocausal/adapters/memory"
	"gocausal/adapters/postgres"
	"gocausal/api"
	"gocausal/app"
	"gocausal/internal/config"
	"gocausal/internal/errors"
	"gocausal/ports"
)

// initDatabase connects to PostgreSQL and prepares the estimates table
func initDatabase(url string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	if err := postgres.EnsureSchema(context.Background(), db); err != nil {
		return nil, errors.Wrap(err, "failed to prepare estimates table")
	}

	return db, nil
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var ledger ports.EstimateLedger
	if appConfig.Database.URL != "" {
		db, err := initDatabase(appConfig.Database.URL)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		ledger = postgres.NewEstimateLedger(db)
		log.Println("Using PostgreSQL estimate ledger")
	} else {
		ledger = memory.NewEstimateLedger()
		log.Println("DATABASE_URL not set, using in-memory estimate ledger")
	}

	service := app.NewEstimationService(ledger)
	server := api.NewServer(service, ledger)

	if err := server.Start(appConfig.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
