package main

import (
	"log"
	"os"

	"easyform/internal/config"
	"easyform/internal/db"
	"easyform/internal/handlers"
	"easyform/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if path := os.Getenv("EASYFORM_CONFIG"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	cipher, err := security.NewTokenCipherFromBase64(cfg.TokenEncKeyB64)
	if err != nil {
		log.Fatalf("invalid TOKEN_ENC_KEY_B64: %v", err)
	}

	store, err := db.NewSQLiteStore(cfg.SQLitePath, cipher)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// No dedupe ledger or compliance archive locally; both are optional.
	app := handlers.NewApp(cfg, store)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	handlers.Mount(router, app)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s (env=%s, sqlite=%s)", port, cfg.Environment, cfg.SQLitePath)
	if err := router.Run(":" + port); err != nil {
		log.Fatal(err)
	}
}
