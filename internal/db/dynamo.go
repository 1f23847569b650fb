package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"easyform/internal/security"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// sessionItem mirrors the sessions table.
// PK = SHOP#<shopDomain>
type sessionItem struct {
	PK             string `dynamodbav:"PK"`
	Shop           string `dynamodbav:"Shop"`
	AccessTokenEnc string `dynamodbav:"AccessTokenEnc"`
	Scope          string `dynamodbav:"Scope"`
	CreatedAt      string `dynamodbav:"CreatedAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt,omitempty"`
}

type stateItem struct {
	State          string `dynamodbav:"State"`
	Shop           string `dynamodbav:"Shop"`
	ExpiresAtEpoch int64  `dynamodbav:"ExpiresAtEpoch"`
}

type DynamoStore struct {
	ddb           DDBClient
	sessionsTable string
	stateTable    string
	cipher        *security.TokenCipher
}

func NewDynamoStore(ddb DDBClient, sessionsTable, stateTable string, cipher *security.TokenCipher) *DynamoStore {
	return &DynamoStore{
		ddb:           ddb,
		sessionsTable: strings.TrimSpace(sessionsTable),
		stateTable:    strings.TrimSpace(stateTable),
		cipher:        cipher,
	}
}

func shopPK(shop string) string {
	return fmt.Sprintf("SHOP#%s", shop)
}

func (s *DynamoStore) sessionKey(shop string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: shopPK(shop)},
	}
}

func (s *DynamoStore) GetSession(ctx context.Context, shop string) (*Session, error) {
	if s.sessionsTable == "" {
		return nil, fmt.Errorf("SESSIONS_TABLE not set")
	}

	out, err := s.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.sessionsTable),
		Key:       s.sessionKey(shop),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get session: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var it sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}

	token, err := s.cipher.Open(it.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token: %w", err)
	}

	return &Session{
		Shop:        it.Shop,
		AccessToken: token,
		Scope:       it.Scope,
		CreatedAt:   parseTime(it.CreatedAt),
		UpdatedAt:   parseTime(it.UpdatedAt),
	}, nil
}

func (s *DynamoStore) PutSession(ctx context.Context, sess Session) error {
	if s.sessionsTable == "" {
		return fmt.Errorf("SESSIONS_TABLE not set")
	}

	enc, err := s.cipher.Seal(sess.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}

	// A reinstall replaces the token and scope but keeps the first CreatedAt.
	_, err = s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.sessionsTable),
		Key:              s.sessionKey(sess.Shop),
		UpdateExpression: aws.String("SET Shop = :shop, AccessTokenEnc = :t, #s = :s, UpdatedAt = :u, CreatedAt = if_not_exists(CreatedAt, :c)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Scope",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":shop": &types.AttributeValueMemberS{Value: sess.Shop},
			":t":    &types.AttributeValueMemberS{Value: enc},
			":s":    &types.AttributeValueMemberS{Value: sess.Scope},
			":u":    &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":c":    &types.AttributeValueMemberS{Value: sess.CreatedAt.UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put session: %w", err)
	}
	return nil
}

func (s *DynamoStore) DeleteSession(ctx context.Context, shop string) error {
	_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.sessionsTable),
		Key:       s.sessionKey(shop),
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete session: %w", err)
	}
	return nil
}

func (s *DynamoStore) UpdateScope(ctx context.Context, shop, scope string) error {
	// Only touch installed shops; a late scopes_update must not recreate a session.
	_, err := s.ddb.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.sessionsTable),
		Key:                 s.sessionKey(shop),
		UpdateExpression:    aws.String("SET #s = :s, UpdatedAt = :u"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#s": "Scope",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: scope},
			":u": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrNotFound
		}
		return fmt.Errorf("dynamodb update scope: %w", err)
	}
	return nil
}

func (s *DynamoStore) SaveState(ctx context.Context, st OAuthState) error {
	if s.stateTable == "" {
		return fmt.Errorf("OAUTH_STATE_TABLE not set")
	}

	av, err := attributevalue.MarshalMap(stateItem{
		State:          st.State,
		Shop:           st.Shop,
		ExpiresAtEpoch: st.ExpiresAt.Unix(),
	})
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.stateTable),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb put state: %w", err)
	}
	return nil
}

func (s *DynamoStore) TakeState(ctx context.Context, state string) (*OAuthState, error) {
	if s.stateTable == "" {
		return nil, fmt.Errorf("OAUTH_STATE_TABLE not set")
	}

	// one-time: delete and read back in a single call
	out, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.stateTable),
		Key: map[string]types.AttributeValue{
			"State": &types.AttributeValueMemberS{Value: state},
		},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb take state: %w", err)
	}
	if len(out.Attributes) == 0 {
		return nil, ErrNotFound
	}

	var it stateItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return nil, err
	}

	exp := time.Unix(it.ExpiresAtEpoch, 0).UTC()
	if time.Now().UTC().After(exp) {
		return nil, ErrNotFound
	}
	return &OAuthState{State: it.State, Shop: it.Shop, ExpiresAt: exp}, nil
}

func (s *DynamoStore) Ping(ctx context.Context) error {
	if s.sessionsTable == "" {
		return fmt.Errorf("SESSIONS_TABLE not set")
	}
	_, err := s.ddb.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.sessionsTable),
	})
	return err
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
