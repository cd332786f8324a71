package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/blockforge/launcher/internal/app"
	"github.com/blockforge/launcher/internal/config"
)

func main() {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load("configs/.env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appCtx := context.Background()
	launcher, err := app.New(appCtx, cfg)
	if err != nil {
		if errors.Is(err, app.ErrAlreadyRunning) {
			return
		}
		log.Fatalf("failed to build app: %v", err)
	}

	if err := launcher.Run(appCtx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
