package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ActiveSession stored in redis for readers outside the CSMS.
type ActiveSession struct {
	StationID     string            `json:"stationId"`
	ConnectorID   int               `json:"connectorId"`
	IDTag         string            `json:"idTag"`
	TransactionID int               `json:"transactionId"`
	StartedAt     time.Time         `json:"startedAt"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Store manages the active session mirror. Each session lives under its own key and every
// station keeps a set of its transaction ids so a disconnect can drop them together.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore returns redis-backed store. A zero ttl keeps entries until they are deleted.
func NewStore(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "csms"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(transactionID int) string {
	return fmt.Sprintf("%s:sessions:active:%d", s.prefix, transactionID)
}

func (s *Store) stationKey(stationID string) string {
	return fmt.Sprintf("%s:stations:%s:transactions", s.prefix, stationID)
}

func (s *Store) indexKey() string {
	return s.prefix + ":stations"
}

// Save caches session.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	txID := strconv.Itoa(session.TransactionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.TransactionID), data, s.ttl)
		pipe.SAdd(ctx, s.stationKey(session.StationID), txID)
		pipe.SAdd(ctx, s.indexKey(), session.StationID)
		return nil
	})
	return err
}

// Get returns cached session.
func (s *Store) Get(ctx context.Context, transactionID int) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(transactionID)).Result()
	if err != nil {
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes cached session.
func (s *Store) Delete(ctx context.Context, stationID string, transactionID int) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(transactionID))
		pipe.SRem(ctx, s.stationKey(stationID), strconv.Itoa(transactionID))
		return nil
	})
	return err
}

// DeleteStation removes every cached session of the station.
func (s *Store) DeleteStation(ctx context.Context, stationID string) error {
	members, err := s.client.SMembers(ctx, s.stationKey(stationID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	keys := make([]string, 0, len(members)+1)
	for _, member := range members {
		id, err := strconv.Atoi(member)
		if err != nil {
			continue
		}
		keys = append(keys, s.key(id))
	}
	keys = append(keys, s.stationKey(stationID))

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.SRem(ctx, s.indexKey(), stationID)
		return nil
	})
	return err
}

// List returns all cached sessions ordered by station and connector.
func (s *Store) List(ctx context.Context) ([]ActiveSession, error) {
	stations, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]ActiveSession, 0)
	for _, stationID := range stations {
		members, err := s.client.SMembers(ctx, s.stationKey(stationID)).Result()
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			id, err := strconv.Atoi(member)
			if err != nil {
				continue
			}
			session, err := s.Get(ctx, id)
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, err
			}
			sessions = append(sessions, *session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StationID != sessions[j].StationID {
			return sessions[i].StationID < sessions[j].StationID
		}
		return sessions[i].ConnectorID < sessions[j].ConnectorID
	})
	return sessions, nil
}
