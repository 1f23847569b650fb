// Package lambdaapp wires the production App from AWS services. Each Lambda
// main calls Build once at cold start.
package lambdaapp

import (
	"context"
	"fmt"
	"log"

	"easyform/internal/compliance"
	"easyform/internal/config"
	"easyform/internal/db"
	"easyform/internal/handlers"
	"easyform/internal/security"
	"easyform/internal/shopify"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

func Build(ctx context.Context) (*handlers.App, error) {
	// Uses Lambda’s execution role creds automatically
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	cfg, err := config.Load(ctx, ssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cipher, err := security.NewTokenCipherFromBase64(cfg.TokenEncKeyB64)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_ENC_KEY_B64: %w", err)
	}

	ddb := dynamodb.NewFromConfig(awsCfg)
	app := handlers.NewApp(cfg, db.NewDynamoStore(ddb, cfg.SessionsTable, cfg.OAuthStateTable, cipher))
	app.Ledger = shopify.NewWebhookLedger(ddb, cfg.WebhookDedupTable)
	app.Compliance = &compliance.Recorder{
		SNS:      sns.NewFromConfig(awsCfg),
		TopicARN: cfg.ComplianceTopicARN,
		S3:       s3.NewFromConfig(awsCfg),
		Bucket:   cfg.ComplianceBucket,
	}

	log.Printf("lambdaapp: env=%s api=%s sessions=%s", cfg.Environment, cfg.ShopifyAPIVersion, cfg.SessionsTable)
	return app, nil
}
