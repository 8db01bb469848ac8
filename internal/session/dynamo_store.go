package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type dynamoRecord struct {
	Session
	ExpiresAt int64 `dynamodbav:"expiresAt,omitempty"`
}

// DynamoStore keeps sessions in a DynamoDB table keyed by sessionId.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	tracer    trace.Tracer
}

var (
	_ Store  = (*DynamoStore)(nil)
	_ Lister = (*DynamoStore)(nil)
)

func NewDynamoStore(client dynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if client == nil {
		panic("session: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("session: table name cannot be empty")
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		tracer:    otel.Tracer("ciro.internal.session.dynamo"),
	}
}

func (s *DynamoStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "session.dynamo.load")
	defer span.End()

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"sessionId": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		span.RecordError(err)
		return nil, unavailable("load", err)
	}
	if out == nil || len(out.Item) == 0 {
		return New(id), nil
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		span.RecordError(err)
		return nil, unavailable("decode", err)
	}
	sess := rec.Session
	return &sess, nil
}

func (s *DynamoStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session: session cannot be nil")
	}
	if err := validateID(sess.ID); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "session.dynamo.save")
	defer span.End()

	rec := dynamoRecord{Session: *sess}
	if s.ttl > 0 {
		rec.ExpiresAt = time.Now().Add(s.ttl).Unix()
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("session: marshal dynamo item: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		span.RecordError(err)
		return unavailable("save", err)
	}
	return nil
}

// List scans the table for session ids, following pagination.
func (s *DynamoStore) List(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "session.dynamo.list")
	defer span.End()

	var (
		ids   []string
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(s.tableName),
			ProjectionExpression: aws.String("sessionId"),
			ExclusiveStartKey:    start,
		})
		if err != nil {
			span.RecordError(err)
			return nil, unavailable("list", err)
		}
		for _, item := range out.Items {
			if v, ok := item["sessionId"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, v.Value)
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.Strings(ids)
	return ids, nil
}
