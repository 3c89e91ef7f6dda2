package main

import (
	"log"

	"mpesa-payment-service/internal/database"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	database.Connect()
	database.Migrate()
	log.Println("Migration finished")
}
