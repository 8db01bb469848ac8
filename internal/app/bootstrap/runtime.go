package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/ciro-tutor/internal/config"
	"github.com/wolfman30/ciro-tutor/internal/session"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSessionStore picks the session backend named by SESSION_STORE.
// awsCfg is only consulted for dynamodb.
func BuildSessionStore(cfg *appconfig.Config, redisClient *redis.Client, awsCfg *aws.Config, logger *logging.Logger) (session.Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.SessionStore {
	case "", "memory":
		logger.Warn("using in-memory session store; sessions are lost on restart")
		return session.NewMemoryStore(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: SESSION_STORE=redis but redis is unavailable")
		}
		logger.Info("using redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		return session.NewRedisStore(redisClient, cfg.SessionTTL), nil
	case "dynamodb":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: SESSION_STORE=dynamodb requires AWS config")
		}
		logger.Info("using dynamodb session store", "table", cfg.SessionsTable, "ttl", cfg.SessionTTL)
		return session.NewDynamoStore(dynamodb.NewFromConfig(*awsCfg), cfg.SessionsTable, cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session store %q", cfg.SessionStore)
	}
}

// BuildLocker returns the per-session lock. SESSION_LOCK=redis shares locks
// across replicas.
func BuildLocker(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (session.Locker, error) {
	switch cfg.SessionLock {
	case "", "local":
		return session.NewKeyedLocker(), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: SESSION_LOCK=redis but redis is unavailable")
		}
		if logger != nil {
			logger.Info("using redis session locks")
		}
		return session.NewRedisLocker(redisClient, 0), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session lock %q", cfg.SessionLock)
	}
}
