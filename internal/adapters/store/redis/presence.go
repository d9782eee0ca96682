// Package redis persists presence state so other services can answer
// "who is online" without asking the hub.
package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/soleron/huddle/internal/domain"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "online_users"
)

// Store mirrors presence transitions into redis: a JSON entry per user plus
// an online_users set, both kept behind a TTL so a crashed hub cannot leave
// users online forever.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client, ttl: 120 * time.Second}
}

func (s *Store) SetPresenceTTL(ttl time.Duration) { s.ttl = ttl }

func (s *Store) SetPresence(ctx context.Context, id domain.UserID, online bool, at time.Time) error {
	entry := domain.PresenceEntry{Online: online, LastSeen: at}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal presence entry")
	}

	key := presenceKeyPrefix + string(id)
	pipe := s.client.Pipeline()
	if online {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.SAdd(ctx, onlineSetKey, string(id))
		pipe.Expire(ctx, onlineSetKey, s.ttl*2)
	} else {
		pipe.Set(ctx, key, data, 0)
		pipe.SRem(ctx, onlineSetKey, string(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &domain.TransientInfraError{Op: "redis presence write", Err: err}
	}
	return nil
}

// GetPresence reads the persisted entry back; used by health checks and
// tooling, the hub itself trusts its local table.
func (s *Store) GetPresence(ctx context.Context, id domain.UserID) (*domain.PresenceEntry, error) {
	data, err := s.client.Get(ctx, presenceKeyPrefix+string(id)).Bytes()
	if err == redis.Nil {
		return nil, &domain.NotFoundError{Resource: "presence", ID: string(id)}
	}
	if err != nil {
		return nil, &domain.TransientInfraError{Op: "redis presence read", Err: err}
	}
	var entry domain.PresenceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "unmarshal presence entry")
	}
	return &entry, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
