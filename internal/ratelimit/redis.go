package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when optimistic transactions keep conflicting.
var ErrContention = errors.New("ratelimit: too much contention on client state")

const maxTxRetries = 10

// RedisStore keeps client state in a Redis hash per client and serializes
// updates with WATCH/MULTI.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "agentgate"
	}
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key(clientID string) string {
	// Hash tag keeps every client's state in one cluster slot.
	return fmt.Sprintf("%s:ratelimit:{%s}", s.namespace, clientID)
}

// Mutate implements StateStore.
func (s *RedisStore) Mutate(ctx context.Context, clientID string, defaults Limits, fn func(*State) error) (State, error) {
	key := s.key(clientID)
	var out State

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		st := decodeState(clientID, fields, defaults)
		if err := fn(&st); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeState(st))
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, fmt.Errorf("redis rate limit state: %w", err)
	}
	return State{}, ErrContention
}

func decodeState(clientID string, fields map[string]string, defaults Limits) State {
	st := State{
		ClientID: clientID,
		RPMLimit: defaults.RPM,
		TPMLimit: defaults.TPM,
	}
	if len(fields) == 0 {
		return st
	}
	if v, err := strconv.Atoi(fields["rpm_limit"]); err == nil {
		st.RPMLimit = v
	}
	if v, err := strconv.Atoi(fields["tpm_limit"]); err == nil {
		st.TPMLimit = v
	}
	if v, err := strconv.Atoi(fields["current_rpm"]); err == nil {
		st.CurrentRPM = v
	}
	if v, err := strconv.Atoi(fields["current_tpm"]); err == nil {
		st.CurrentTPM = v
	}
	if v, err := strconv.ParseInt(fields["window_start"], 10, 64); err == nil && v > 0 {
		st.WindowStart = time.UnixMilli(v)
	}
	return st
}

func encodeState(st State) map[string]any {
	var windowStart int64
	if !st.WindowStart.IsZero() {
		windowStart = st.WindowStart.UnixMilli()
	}
	return map[string]any{
		"rpm_limit":    st.RPMLimit,
		"tpm_limit":    st.TPMLimit,
		"current_rpm":  st.CurrentRPM,
		"current_tpm":  st.CurrentTPM,
		"window_start": windowStart,
	}
}
