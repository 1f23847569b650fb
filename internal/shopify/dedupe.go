package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type LedgerClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// WebhookLedger remembers delivered webhook ids so retries from Shopify are processed once.
type WebhookLedger struct {
	DDB   LedgerClient
	Table string
	TTL   time.Duration
}

func NewWebhookLedger(ddb LedgerClient, table string) *WebhookLedger {
	return &WebhookLedger{DDB: ddb, Table: table, TTL: 7 * 24 * time.Hour}
}

// Claim returns (isDuplicate, error). If duplicate, caller should exit early.
// A nil ledger, an unset table or an empty id never blocks processing.
func (l *WebhookLedger) Claim(ctx context.Context, webhookID, shopDomain, topic string) (bool, error) {
	if l == nil || l.DDB == nil || strings.TrimSpace(l.Table) == "" {
		return false, nil
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return false, nil
	}

	now := time.Now().UTC()
	exp := now.Add(l.TTL).Unix()

	_, err := l.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.Table),
		Item: map[string]types.AttributeValue{
			"PK":        &types.AttributeValueMemberS{Value: ledgerKey(webhookID)},
			"Shop":      &types.AttributeValueMemberS{Value: shopDomain},
			"Topic":     &types.AttributeValueMemberS{Value: topic},
			"CreatedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"ExpiresAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", exp)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		// Conditional check failed => already processed
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, err
	}

	return false, nil
}

// Release forgets a claimed id after processing failed, so Shopify's retry
// of the same delivery is handled instead of reported as a duplicate.
func (l *WebhookLedger) Release(ctx context.Context, webhookID string) error {
	if l == nil || l.DDB == nil || strings.TrimSpace(l.Table) == "" {
		return nil
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return nil
	}

	_, err := l.DDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.Table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ledgerKey(webhookID)},
		},
	})
	return err
}

func ledgerKey(webhookID string) string {
	return fmt.Sprintf("WH#%s", webhookID)
}
