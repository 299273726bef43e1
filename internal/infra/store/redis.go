package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"twingate/internal/domain"
)

const (
	globalToolsKey  = "twingate:tools:global"
	twinToolsPrefix = "twingate:tools:twin:"
)

func twinKey(scope uuid.UUID) string {
	if scope == uuid.Nil {
		return globalToolsKey
	}
	return twinToolsPrefix + scope.String()
}

// RedisStore keeps one hash per scope, field = tool name, value = the
// serialized schema.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(ctx context.Context, url string, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, domain.E(domain.CodeConfiguration, "store.redis", fmt.Sprintf("invalid redis url %q", url), err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.E(domain.CodeStoreUnavailable, "store.redis", "ping failed", err)
	}
	return &RedisStore{client: client, logger: logger.Named("redis_store")}, nil
}

func (s *RedisStore) LoadAll(ctx context.Context) (map[uuid.UUID]map[string]domain.ToolSchema, error) {
	out := make(map[uuid.UUID]map[string]domain.ToolSchema)

	global, err := s.client.HGetAll(ctx, globalToolsKey).Result()
	if err != nil {
		return nil, domain.E(domain.CodeStoreUnavailable, "store.redis.load", "", err)
	}
	s.mergeHash(out, uuid.Nil, global)

	keys, err := s.client.Keys(ctx, twinToolsPrefix+"*").Result()
	if err != nil {
		return nil, domain.E(domain.CodeStoreUnavailable, "store.redis.load", "", err)
	}
	for _, key := range keys {
		scope, err := uuid.Parse(strings.TrimPrefix(key, twinToolsPrefix))
		if err != nil {
			s.logger.Warn("skipping malformed twin key", zap.String("key", key))
			continue
		}
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, domain.E(domain.CodeStoreUnavailable, "store.redis.load", "", err)
		}
		s.mergeHash(out, scope, fields)
	}

	s.logger.Info("loaded tool groups", zap.Int("scopes", len(out)))
	return out, nil
}

func (s *RedisStore) mergeHash(dst map[uuid.UUID]map[string]domain.ToolSchema, scope uuid.UUID, fields map[string]string) {
	for name, raw := range fields {
		var tool domain.ToolSchema
		if err := json.Unmarshal([]byte(raw), &tool); err != nil {
			s.logger.Warn("skipping undecodable tool", zap.String("tool", name), zap.Error(err))
			continue
		}
		if dst[scope] == nil {
			dst[scope] = make(map[string]domain.ToolSchema)
		}
		dst[scope][name] = tool
	}
}

func (s *RedisStore) Persist(ctx context.Context, scope uuid.UUID, tool domain.ToolSchema) error {
	if len(tool.Parameters) == 0 {
		tool.Parameters = json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(tool)
	if err != nil {
		return domain.E(domain.CodeInternal, "store.redis.persist", "encode tool", err)
	}
	if err := s.client.HSet(ctx, twinKey(scope), tool.Name, raw).Err(); err != nil {
		return domain.E(domain.CodeStoreUnavailable, "store.redis.persist", "", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, scope uuid.UUID, name string) error {
	if err := s.client.HDel(ctx, twinKey(scope), name).Err(); err != nil {
		return domain.E(domain.CodeStoreUnavailable, "store.redis.remove", "", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ ToolStore = (*RedisStore)(nil)
