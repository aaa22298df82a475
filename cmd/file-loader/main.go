package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"

	loaderconfig "snowflake-loader/internal/config"
	"snowflake-loader/internal/logging"
	"snowflake-loader/internal/pipeline"
)

func main() {
	ctx := context.Background()

	if err := loaderconfig.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	logging.Init("snowflake-loader")

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}

	h := pipeline.NewLoader(cfg, loaderconfig.Path())
	lambda.Start(h.Handle)
}
