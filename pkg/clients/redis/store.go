package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/StricklySoft/entra-guard/pkg/auth"
	sserr "github.com/StricklySoft/entra-guard/pkg/errors"
)

var _ auth.KeySetStore = (*KeySetStore)(nil)

// KeySetStore is an [auth.KeySetStore] backed by Redis. Each key set is
// stored as a JSON envelope under prefix + sha256(url) and expires after
// ttl.
type KeySetStore struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// envelope is the stored value. Document holds the key-set document exactly
// as the identity provider served it.
type envelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Document  json.RawMessage `json:"document"`
}

// NewKeySetStore returns a store writing through client. An empty prefix
// uses [DefaultKeyPrefix]; a non-positive ttl uses [DefaultKeySetTTL].
func NewKeySetStore(client *Client, prefix string, ttl time.Duration) *KeySetStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}
	return &KeySetStore{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key used for url.
func (s *KeySetStore) Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return s.prefix + hex.EncodeToString(sum[:])
}

// Load returns the stored key-set document for url. A missing key reports
// ok=false with no error.
func (s *KeySetStore) Load(ctx context.Context, url string) ([]byte, time.Time, bool, error) {
	val, err := s.client.Get(ctx, s.Key(url))
	if err != nil {
		if IsNotFound(err) {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(val), &env); err != nil {
		return nil, time.Time{}, false, sserr.Wrap(err, sserr.CodeInternalCache,
			"redis: stored key set is not a valid envelope").
			WithDetail("key", s.Key(url))
	}
	if len(env.Document) == 0 || env.FetchedAt.IsZero() {
		return nil, time.Time{}, false, sserr.New(sserr.CodeInternalCache,
			"redis: stored key set envelope is incomplete").
			WithDetail("key", s.Key(url))
	}
	return env.Document, env.FetchedAt, true, nil
}

// Save stores raw for url, recording fetchedAt so other replicas age the
// set from the original fetch rather than from their own load.
func (s *KeySetStore) Save(ctx context.Context, url string, raw []byte, fetchedAt time.Time) error {
	if !json.Valid(raw) {
		return sserr.New(sserr.CodeInternalCache, "redis: refusing to store invalid key set JSON")
	}
	data, err := json.Marshal(envelope{FetchedAt: fetchedAt.UTC(), Document: raw})
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalCache, "redis: failed to encode key set envelope")
	}
	return s.client.Set(ctx, s.Key(url), string(data), s.ttl)
}
