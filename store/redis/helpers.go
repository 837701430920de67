package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// isUnavailable reports connection-level failures.
func isUnavailable(err error) bool {
	if errors.Is(err, goredis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrap annotates a client error. Connection failures also match
// dispatch.ErrStoreUnavailable.
func wrap(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("dispatch/redis: %s: %w: %w", op, dispatch.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("dispatch/redis: %s: %w", op, err)
}

// atomically runs fn under WATCH on keys, retrying when another client
// modified a watched key before EXEC. Errors returned by fn pass through.
func (s *Store) atomically(ctx context.Context, op string, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range s.maxRetries {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			fnErr = fn(tx)
			return fnErr
		}, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, goredis.TxFailedErr):
			continue
		case fnErr != nil:
			return fnErr
		default:
			return wrap(op, err)
		}
	}
	return fmt.Errorf("dispatch/redis: %s: %w: too many conflicting writers", op, dispatch.ErrStoreUnavailable)
}

// commit queues writes in MULTI/EXEC on tx. A lost WATCH race comes back
// as goredis.TxFailedErr, unwrapped, so atomically can retry it.
func commit(ctx context.Context, tx *goredis.Tx, op string, writes func(pipe goredis.Pipeliner) error) error {
	_, err := tx.TxPipelined(ctx, writes)
	if err == nil || errors.Is(err, goredis.TxFailedErr) {
		return err
	}
	return wrap(op, err)
}

type getter interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
}

// load decodes the blob at key into v. It reports false when the key is
// missing.
func load(ctx context.Context, c getter, key string, v any) (bool, error) {
	b, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get "+key, err)
	}
	if err := record.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("dispatch/redis: decode %s: %w", key, err)
	}
	return true, nil
}

// loadMany decodes the blobs at keys, skipping missing ones.
func loadMany[T any](ctx context.Context, c goredis.Cmdable, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap("mget", err)
	}
	out := make([]*T, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		rec := new(T)
		if err := record.Unmarshal([]byte(str), rec); err != nil {
			return nil, fmt.Errorf("dispatch/redis: decode %s: %w", keys[i], err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// blob encodes v for SET.
func blob(v any) ([]byte, error) {
	b, err := record.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dispatch/redis: encode: %w", err)
	}
	return b, nil
}

func timeScore(t time.Time) float64 { return float64(t.UnixMicro()) }

func expiryScore(t time.Time) float64 { return float64(t.UnixMilli()) }

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
