// Package session persists per-browser GUI state between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-redis/redis/v8"

	"github.com/example/scan-classifier/internal/navigation"
)

// MaxHistory bounds the number of history entries kept per session.
const MaxHistory = 50

// ErrNotFound reports an unknown or expired session id.
var ErrNotFound = errors.New("session not found")

// UploadRecord describes the image currently selected for analysis. The
// bytes are kept so the image can be resubmitted after navigating away.
type UploadRecord struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data"`
}

// Result is the last prediction shown on the analysis page.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Data is everything remembered about one browser session.
type Data struct {
	State   navigation.State `json:"state"`
	Upload  *UploadRecord    `json:"upload,omitempty"`
	Result  *Result          `json:"result,omitempty"`
	History []string         `json:"history,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// New returns the data of a fresh session.
func New() *Data {
	return &Data{State: navigation.Initial()}
}

// Apply runs ev through the navigation state machine.
func (d *Data) Apply(ev navigation.Event) {
	d.State = navigation.Transition(d.State, ev)
}

// AddHistory prepends entry, dropping the oldest beyond MaxHistory.
func (d *Data) AddHistory(entry string) {
	d.History = append([]string{entry}, d.History...)
	if len(d.History) > MaxHistory {
		d.History = d.History[:MaxHistory]
	}
}

// Store loads and saves session data by id.
type Store interface {
	Load(ctx context.Context, id string) (*Data, error)
	Save(ctx context.Context, id string, data *Data) error
}

// DefaultMemoryBudget bounds the encoded bytes MemoryStore keeps resident.
const DefaultMemoryBudget = 256 << 20

// ErrNotStored reports a session the memory store declined to keep.
var ErrNotStored = errors.New("session not stored")

// MemoryStore keeps sessions in process memory. Entries expire ttl after
// their last save and the least valuable ones are evicted once the encoded
// size of all sessions exceeds the byte budget.
type MemoryStore struct {
	cache     *ristretto.Cache
	ttl       time.Duration
	evictions atomic.Int64
}

// NewMemoryStore creates a store holding at most maxBytes of encoded
// sessions. A non-positive maxBytes selects DefaultMemoryBudget.
func NewMemoryStore(ttl time.Duration, maxBytes int64) (*MemoryStore, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMemoryBudget
	}
	s := &MemoryStore{ttl: ttl}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// roughly 10x the number of sessions expected at 64 KiB each
		NumCounters:        max(10*maxBytes/(64<<10), 1000),
		MaxCost:            maxBytes,
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
		OnEvict:            func(*ristretto.Item) { s.evictions.Add(1) },
	})
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Load returns a copy of the session data.
func (s *MemoryStore) Load(ctx context.Context, id string) (*Data, error) {
	value, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return decode(value.([]byte))
}

// Save stores a copy of data. The write is visible to Load on return.
func (s *MemoryStore) Save(ctx context.Context, id string, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if !s.cache.SetWithTTL(id, raw, int64(len(raw)), s.ttl) {
		return ErrNotStored
	}
	s.cache.Wait()
	return nil
}

// ResidentBytes is the encoded size of the sessions currently kept.
func (s *MemoryStore) ResidentBytes() int64 {
	m := s.cache.Metrics
	return int64(m.CostAdded() - m.CostEvicted())
}

// Evictions counts sessions dropped for expiry or to stay within budget.
func (s *MemoryStore) Evictions() int64 {
	return s.evictions.Load()
}

// Close stops the store's background eviction.
func (s *MemoryStore) Close() {
	s.cache.Close()
}

// RedisStore keeps sessions in Redis as JSON documents.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(id string) string {
	return "session:" + id
}

// Load fetches and decodes the session.
func (s *RedisStore) Load(ctx context.Context, id string) (*Data, error) {
	raw, err := s.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decode(raw)
}

// Save encodes the session and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, id string, data *Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func decode(raw []byte) (*Data, error) {
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &data, nil
}
