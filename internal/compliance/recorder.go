// Package compliance records Shopify's mandatory privacy webhooks: the raw
// payload is archived to S3 and a summary is published to an SNS topic so
// an operator can act on it.
package compliance

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

const (
	TopicCustomersDataRequest = "customers/data_request"
	TopicCustomersRedact      = "customers/redact"
	TopicShopRedact           = "shop/redact"
)

func IsComplianceTopic(topic string) bool {
	switch topic {
	case TopicCustomersDataRequest, TopicCustomersRedact, TopicShopRedact:
		return true
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Event struct {
	Topic     string
	Shop      string
	WebhookID string
	Payload   []byte
}

// Recorder is safe to use with either client nil; that side is skipped.
type Recorder struct {
	SNS      Publisher
	TopicARN string
	S3       ObjectPutter
	Bucket   string
}

func ArchiveKey(ev Event) string {
	id := ev.WebhookID
	if id == "" {
		id = fmt.Sprintf("%d", time.Now().UTC().UnixNano())
	}
	return fmt.Sprintf("compliance/%s/%s/%s.json", ev.Topic, ev.Shop, id)
}

func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if r == nil {
		log.Printf("compliance: no recorder, dropping topic=%s shop=%s", ev.Topic, ev.Shop)
		return nil
	}

	var key string
	if r.S3 != nil && r.Bucket != "" {
		key = ArchiveKey(ev)
		_, err := r.S3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(r.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(ev.Payload),
			ContentType: aws.String("application/json"),
			ACL:         s3types.ObjectCannedACLPrivate,
		})
		if err != nil {
			return fmt.Errorf("s3 putobject failed: %w", err)
		}
	}

	if r.SNS != nil && r.TopicARN != "" {
		subject, message := buildMessage(ev, r.Bucket, key)
		_, err := r.SNS.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(r.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(message),
		})
		if err != nil {
			return fmt.Errorf("sns publish failed: %w", err)
		}
	}

	log.Printf("compliance: recorded topic=%s shop=%s webhook=%s archive=%q", ev.Topic, ev.Shop, ev.WebhookID, key)
	return nil
}

func buildMessage(ev Event, bucket, key string) (subject, body string) {
	subject = fmt.Sprintf("EasyForm: %s (%s)", ev.Topic, ev.Shop)

	lines := []string{
		"EasyForm compliance request",
		"",
		fmt.Sprintf("Shop: %s", ev.Shop),
		fmt.Sprintf("Topic: %s", ev.Topic),
	}
	if ev.WebhookID != "" {
		lines = append(lines, fmt.Sprintf("WebhookId: %s", ev.WebhookID))
	}
	if key != "" {
		lines = append(lines, fmt.Sprintf("Payload: s3://%s/%s", bucket, key))
	}
	lines = append(lines, "", fmt.Sprintf("ReceivedAt: %s", time.Now().UTC().Format(time.RFC3339)))

	return subject, strings.Join(lines, "\n")
}
