package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"twingate/internal/domain"
)

var (
	bucketGlobal = []byte("tools:global")
	bucketTwins  = []byte("tools:twin")
)

// BoltStore is the embedded single-node backend. Global tools live in
// one bucket; twin-scoped tools in one nested bucket per twin id.
type BoltStore struct {
	db     *bolt.DB
	logger *zap.Logger
}

func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.E(domain.CodeStoreUnavailable, "store.bolt", "ensure data dir", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, domain.E(domain.CodeStoreUnavailable, "store.bolt", fmt.Sprintf("open %s", path), err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketGlobal); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTwins)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, domain.E(domain.CodeStoreUnavailable, "store.bolt", "ensure schema", err)
	}
	return &BoltStore{db: db, logger: logger.Named("bolt_store")}, nil
}

func (s *BoltStore) LoadAll(ctx context.Context) (map[uuid.UUID]map[string]domain.ToolSchema, error) {
	out := make(map[uuid.UUID]map[string]domain.ToolSchema)
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := s.readBucket(tx.Bucket(bucketGlobal), uuid.Nil, out); err != nil {
			return err
		}
		twins := tx.Bucket(bucketTwins)
		return twins.ForEachBucket(func(k []byte) error {
			scope, err := uuid.Parse(string(k))
			if err != nil {
				s.logger.Warn("skipping malformed twin bucket", zap.ByteString("bucket", k))
				return nil
			}
			return s.readBucket(twins.Bucket(k), scope, out)
		})
	})
	if err != nil {
		return nil, domain.E(domain.CodeStoreUnavailable, "store.bolt.load", "", err)
	}
	return out, nil
}

func (s *BoltStore) readBucket(b *bolt.Bucket, scope uuid.UUID, dst map[uuid.UUID]map[string]domain.ToolSchema) error {
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		if v == nil {
			return nil
		}
		var tool domain.ToolSchema
		if err := json.Unmarshal(v, &tool); err != nil {
			s.logger.Warn("skipping undecodable tool", zap.String("tool", string(k)), zap.Error(err))
			return nil
		}
		if dst[scope] == nil {
			dst[scope] = make(map[string]domain.ToolSchema)
		}
		dst[scope][string(k)] = tool
		return nil
	})
}

func (s *BoltStore) Persist(ctx context.Context, scope uuid.UUID, tool domain.ToolSchema) error {
	if len(tool.Parameters) == 0 {
		tool.Parameters = json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(tool)
	if err != nil {
		return domain.E(domain.CodeInternal, "store.bolt.persist", "encode tool", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.scopeBucket(tx, scope, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(tool.Name), raw)
	})
	if err != nil {
		return domain.E(domain.CodeStoreUnavailable, "store.bolt.persist", "", err)
	}
	return nil
}

func (s *BoltStore) Remove(ctx context.Context, scope uuid.UUID, name string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.scopeBucket(tx, scope, false)
		if err != nil || b == nil {
			return err
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		return domain.E(domain.CodeStoreUnavailable, "store.bolt.remove", "", err)
	}
	return nil
}

func (s *BoltStore) scopeBucket(tx *bolt.Tx, scope uuid.UUID, create bool) (*bolt.Bucket, error) {
	if scope == uuid.Nil {
		return tx.Bucket(bucketGlobal), nil
	}
	twins := tx.Bucket(bucketTwins)
	key := []byte(scope.String())
	if create {
		return twins.CreateBucketIfNotExists(key)
	}
	return twins.Bucket(key), nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ ToolStore = (*BoltStore)(nil)
