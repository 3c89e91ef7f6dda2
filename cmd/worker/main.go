package main

import (
	"log"
	"os"

	"mpesa-payment-service/internal/database"
	"mpesa-payment-service/internal/services"
	"mpesa-payment-service/internal/store"
	"mpesa-payment-service/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	database.Connect()
	db := database.DB

	transactionStore := store.NewTransactionStore(db)
	// The worker re-runs reconciliation only; it never enqueues follow-ups
	// for callbacks that stay orphaned.
	reconcileService := services.NewReconcileService(transactionStore, nil)

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	w := worker.NewWorker(reconcileService)
	if err := w.Run(redisAddr); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}
