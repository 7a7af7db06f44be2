//go:build lambda

// balancer-lambda runs one-shot searches behind a Lambda function URL.
// Configuration is read from BALANCER_CONFIG, defaulting to balancer.yaml
// next to the bootstrap binary.
package main

import (
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/server"
)

func main() {
	logConfig, err := logger.LoadConfig(os.Getenv("BALANCER_LOGGING"))
	if err != nil {
		log.Fatalf("Failed to load logging config: %v", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	path := os.Getenv("BALANCER_CONFIG")
	if path == "" {
		path = "balancer.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lambda.Start(server.NewLambdaHandler(cfg))
}
