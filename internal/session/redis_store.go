package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// RedisStore keeps each session as one JSON document.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

var (
	_ Store  = (*RedisStore)(nil)
	_ Lister = (*RedisStore)(nil)
)

// NewRedisStore builds a store. A zero ttl keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("ciro.internal.session.redis"),
	}
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	ctx, span := s.tracer.Start(ctx, "session.redis.load")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return New(id), nil
		}
		span.RecordError(err)
		return nil, unavailable("load", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, unavailable("decode", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session: session cannot be nil")
	}
	if err := validateID(sess.ID); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "session.redis.save")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return unavailable("save", err)
	}
	return nil
}

// List walks the session keyspace with SCAN.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "session.redis.list")
	defer span.End()

	var ids []string
	iter := s.redis.Scan(ctx, 0, sessionKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), sessionKeyPrefix))
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return nil, unavailable("list", err)
	}
	sort.Strings(ids)
	return ids, nil
}

const sessionKeyPrefix = "ciro:session:"

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
