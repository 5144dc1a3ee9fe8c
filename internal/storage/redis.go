package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

const (
	aliasLockTTL     = 5 * time.Second
	aliasLockRetries = 20
	aliasLockBackoff = 50 * time.Millisecond
)

// RedisStore keeps aliases in Redis so several service instances share them.
// Each write holds a lock on the single alias key being changed.
type RedisStore struct {
	client *redis.Client
	locker *redislock.Client
	prefix string
	logger logger.Logger
}

var _ AliasStore = (*RedisStore)(nil)

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, "payer-alias" when empty.
	Prefix string
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig, log logger.Logger) (*RedisStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "payer-alias"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "connect redis", err).
			WithContext("addr", cfg.Addr)
	}

	return &RedisStore{
		client: client,
		locker: redislock.New(client),
		prefix: cfg.Prefix,
		logger: log.WithComponent("redis-store"),
	}, nil
}

// Close closes the Redis client
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) aliasKey(tenantID, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, tenantID, key)
}

func (r *RedisStore) indexKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:index", r.prefix, tenantID)
}

func (r *RedisStore) lockKey(tenantID, key string) string {
	return "lock:" + r.aliasKey(tenantID, key)
}

func (r *RedisStore) GetAlias(ctx context.Context, tenantID, key string) (*models.PayerAlias, error) {
	alias, err := r.read(ctx, tenantID, key)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias lookup", err)
	}
	return alias, nil
}

func (r *RedisStore) read(ctx context.Context, tenantID, key string) (*models.PayerAlias, error) {
	raw, err := r.client.Get(ctx, r.aliasKey(tenantID, key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var alias models.PayerAlias
	if err := json.Unmarshal(raw, &alias); err != nil {
		return nil, fmt.Errorf("corrupt alias record: %w", err)
	}
	return &alias, nil
}

func (r *RedisStore) obtain(ctx context.Context, tenantID, key string) (*redislock.Lock, error) {
	lock, err := r.locker.Obtain(ctx, r.lockKey(tenantID, key), aliasLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(aliasLockBackoff), aliasLockRetries),
	})
	if stderrors.Is(err, redislock.ErrNotObtained) {
		return nil, errors.ProviderError(errors.CodeLockContention, "alias write", err).
			WithContext("payer_key", key)
	}
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}
	return lock, nil
}

func (r *RedisStore) CompareAndSwapAlias(ctx context.Context, expectedAccountID string, next *models.PayerAlias) (*models.PayerAlias, bool, error) {
	lock, err := r.obtain(ctx, next.TenantID, next.NormalizedPayerKey)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil && !stderrors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.WithError(err).WithField("payer_key", next.NormalizedPayerKey).Warn("Failed to release alias lock")
		}
	}()

	current, err := r.read(ctx, next.TenantID, next.NormalizedPayerKey)
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}
	if !casAllowed(current, expectedAccountID) {
		return current, false, nil
	}

	stored := mergeForWrite(current, next)
	raw, err := json.Marshal(stored)
	if err != nil {
		return nil, false, errors.InternalError(errors.CodeUnexpectedError, "encode alias", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.aliasKey(stored.TenantID, stored.NormalizedPayerKey), raw, 0)
		pipe.SAdd(ctx, r.indexKey(stored.TenantID), stored.NormalizedPayerKey)
		return nil
	})
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}
	return stored, true, nil
}

func (r *RedisStore) CompareAndDeleteAlias(ctx context.Context, tenantID, key, expectedAccountID string) (bool, error) {
	lock, err := r.obtain(ctx, tenantID, key)
	if err != nil {
		return false, err
	}
	defer func() { _ = lock.Release(context.Background()) }()

	current, err := r.read(ctx, tenantID, key)
	if err != nil {
		return false, errors.ProviderError(errors.CodeStoreUnavailable, "alias delete", err)
	}
	if current == nil || current.AccountID != expectedAccountID {
		return false, nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.aliasKey(tenantID, key))
		pipe.SRem(ctx, r.indexKey(tenantID), key)
		return nil
	})
	if err != nil {
		return false, errors.ProviderError(errors.CodeStoreUnavailable, "alias delete", err)
	}
	return true, nil
}

func (r *RedisStore) ListAliases(ctx context.Context, tenantID string) ([]*models.PayerAlias, error) {
	keys, err := r.client.SMembers(ctx, r.indexKey(tenantID)).Result()
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias export", err)
	}

	out := make([]*models.PayerAlias, 0, len(keys))
	for _, key := range keys {
		alias, err := r.read(ctx, tenantID, key)
		if err != nil {
			return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias export", err).
				WithContext("payer_key", key)
		}
		if alias != nil {
			out = append(out, alias)
		}
	}
	models.SortAliases(out)
	return out, nil
}
