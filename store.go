package statusx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store abstracts persistence for status records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create writes a record for an id that is not yet tracked. Returns
	// ErrAlreadyExists without touching the stored record when the id is
	// already present.
	Create(ctx context.Context, rec *Record) error
	// Save writes the full record under its job id, refreshing the key's
	// expiry to the retention window and the id's entry in the expiry
	// index. The record's ExpiresAt is updated in place. The kill flag is
	// never written by Save; see SetKillRequested.
	Save(ctx context.Context, rec *Record) error
	// Load returns the record for id, or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)
	// Delete removes the record and its index entry. Deleting a missing
	// id is a no-op.
	Delete(ctx context.Context, id string) error
	// SetKillRequested raises the kill flag on an existing record with a
	// single field write, so it cannot be clobbered by a concurrent Save
	// from the executing process. Returns ErrNotFound for unknown ids.
	SetKillRequested(ctx context.Context, id string) error
	// KillRequested reads the current persisted kill flag.
	KillRequested(ctx context.Context, id string) (bool, error)
	// List returns ids whose expiry is at or before until, soonest first.
	// A zero until means every tracked id; a non-positive limit means no
	// limit.
	List(ctx context.Context, until time.Time, limit int64) ([]string, error)
	// Sweep removes records and index entries whose expiry is at or
	// before now, returning how many ids were pruned.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

// Hash field names of the persisted record.
const (
	fieldStatus    = "status"
	fieldAt        = "at"
	fieldTotal     = "total"
	fieldMessage   = "message"
	fieldPayload   = "payload"
	fieldArgs      = "args"
	fieldKill      = "kill_requested"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// DefaultRetention is how long records are kept when no retention is
// configured.
const DefaultRetention = 24 * time.Hour

// RedisStore is the reference Store implementation. Each record is one Redis
// hash under <prefix><id> with a TTL, plus a sorted set <prefix>index scoring
// every id by its expiry, which gives the range scans List and Sweep need
// without touching individual records.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// RedisStoreOptions configures a RedisStore. Zero values select the
// defaults: prefix "statusx:" and DefaultRetention.
type RedisStoreOptions struct {
	Prefix    string
	Retention time.Duration
}

// NewRedisStore creates a store on an existing redis client. The client is
// shared and reusable; the store never closes it.
func NewRedisStore(client redis.UniversalClient, opts RedisStoreOptions) *RedisStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "statusx:"
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention}
}

// Retention returns the configured retention window.
func (s *RedisStore) Retention() time.Duration { return s.retention }

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) indexKey() string { return s.prefix + "index" }

func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("create: empty job id")
	}
	// HSETNX claims the id atomically; a duplicate must fail before any
	// field of the live record is written.
	claimed, err := s.client.HSetNX(ctx, s.key(rec.ID), fieldStatus, string(rec.Status)).Result()
	if err != nil {
		return fmt.Errorf("create record %s: %w", rec.ID, err)
	}
	if !claimed {
		return ErrAlreadyExists
	}
	if err := s.Save(ctx, rec); err != nil {
		// Drop the half-created key so a later create can claim it.
		_ = s.client.Del(ctx, s.key(rec.ID)).Err()
		return err
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("save: empty job id")
	}
	rec.ExpiresAt = time.Now().Add(s.retention)

	fields := map[string]any{
		fieldStatus:    string(rec.Status),
		fieldAt:        strconv.FormatInt(rec.At, 10),
		fieldTotal:     strconv.FormatInt(rec.Total, 10),
		fieldMessage:   rec.Message,
		fieldPayload:   string(rec.Payload),
		fieldArgs:      string(rec.Args),
		fieldCreatedAt: strconv.FormatInt(rec.CreatedAt.Unix(), 10),
		fieldExpiresAt: strconv.FormatInt(rec.ExpiresAt.Unix(), 10),
	}

	// One pipeline per save: the record write, its TTL, and the index
	// entry land together.
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(rec.ID), fields)
	pipe.Expire(ctx, s.key(rec.ID), s.retention)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(rec.ExpiresAt.Unix()),
		Member: rec.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromFields(id, fields)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) SetKillRequested(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := s.client.HSet(ctx, s.key(id), fieldKill, "1").Err(); err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) KillRequested(ctx context.Context, id string) (bool, error) {
	v, err := s.client.HGet(ctx, s.key(id), fieldKill).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Field absent: either the record is gone or nobody has
			// asked for a kill yet.
			n, exErr := s.client.Exists(ctx, s.key(id)).Result()
			if exErr != nil {
				return false, fmt.Errorf("kill check %s: %w", id, exErr)
			}
			if n == 0 {
				return false, ErrNotFound
			}
			return false, nil
		}
		return false, fmt.Errorf("kill check %s: %w", id, err)
	}
	return v == "1", nil
}

func (s *RedisStore) List(ctx context.Context, until time.Time, limit int64) ([]string, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !until.IsZero() {
		rng.Max = strconv.FormatInt(until.Unix(), 10)
	}
	if limit > 0 {
		rng.Count = limit
	}
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), rng).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := strconv.FormatInt(now.Unix(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: cutoff,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("sweep scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.key(id))
	}
	pipe.ZRemRangeByScore(ctx, s.indexKey(), "-inf", cutoff)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("sweep prune: %w", err)
	}
	return int64(len(ids)), nil
}

func recordFromFields(id string, fields map[string]string) (*Record, error) {
	rec := &Record{ID: id}
	rec.Status = Status(fields[fieldStatus])
	if !rec.Status.Valid() {
		return nil, fmt.Errorf("record %s: invalid status %q", id, fields[fieldStatus])
	}
	var err error
	if rec.At, err = parseInt(fields[fieldAt]); err != nil {
		return nil, fmt.Errorf("record %s: at: %w", id, err)
	}
	if rec.Total, err = parseInt(fields[fieldTotal]); err != nil {
		return nil, fmt.Errorf("record %s: total: %w", id, err)
	}
	rec.Message = fields[fieldMessage]
	if v := fields[fieldPayload]; v != "" {
		rec.Payload = []byte(v)
	}
	if v := fields[fieldArgs]; v != "" {
		rec.Args = []byte(v)
	}
	rec.KillRequested = fields[fieldKill] == "1"
	createdAt, err := parseInt(fields[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("record %s: created_at: %w", id, err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	expiresAt, err := parseInt(fields[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("record %s: expires_at: %w", id, err)
	}
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return rec, nil
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}
