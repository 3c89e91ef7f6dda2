package main

import (
	"log"
	"os"

	"mpesa-payment-service/internal/daraja"
	"mpesa-payment-service/internal/database"
	grpcServer "mpesa-payment-service/internal/grpc"
	"mpesa-payment-service/internal/handlers"
	"mpesa-payment-service/internal/services"
	"mpesa-payment-service/internal/store"
	"mpesa-payment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}

	// Initialize Database
	database.Connect()
	database.Migrate()
	db := database.DB

	transactionStore := store.NewTransactionStore(db)

	// Daraja gateway client
	darajaConfig := daraja.Config{
		ConsumerKey:    os.Getenv("DARAJA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("DARAJA_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("DARAJA_SHORT_CODE"),
		Passkey:        os.Getenv("DARAJA_PASSKEY"),
		CallbackURL:    os.Getenv("DARAJA_CALLBACK_URL"),
		Environment:    os.Getenv("DARAJA_ENVIRONMENT"),
	}
	gatewayClient := daraja.NewClient(darajaConfig)

	// Redis/Asynq Client
	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer asynqClient.Close()
	taskClient := worker.NewClient(asynqClient)

	// Services
	paymentService := services.NewPaymentService(transactionStore, gatewayClient, darajaConfig.IsProduction())
	reconcileService := services.NewReconcileService(transactionStore, taskClient)

	paymentHandler := handlers.NewPaymentHandler(paymentService, reconcileService, transactionStore)

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Initialize Gin
	r := gin.Default()

	// Ping endpoint
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "Mpesa payment service up",
		})
	})

	// Public webhook; everything else requires a verified merchant token.
	r.POST("/payments/callback", paymentHandler.HandleCallback)
	r.GET("/payments/:id", paymentHandler.GetTransaction)

	authed := r.Group("/", handlers.AuthMiddleware(jwtSecret))
	authed.POST("/payments/initiate", paymentHandler.InitiatePayment)
	authed.GET("/payments", paymentHandler.ListTransactions)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	grpcPort := os.Getenv("GRPC_PORT")
	if grpcPort == "" {
		grpcPort = "50051"
	}

	// Start gRPC health server
	go grpcServer.StartHealthServer(grpcPort)

	// Start Cron Schedulers
	reconcileService.StartScheduler()

	log.Printf("HTTP Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Failed to start server: ", err)
	}
}
