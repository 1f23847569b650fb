package main

import (
	"context"
	"log"

	"easyform/internal/lambdaapp"

	"github.com/aws/aws-lambda-go/lambda"
)

func main() {
	app, err := lambdaapp.Build(context.Background())
	if err != nil {
		log.Fatalf("webhooks: %v", err)
	}
	lambda.Start(app.Only("/webhooks"))
}
