package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

const (
	jobPrefix       = "job/"
	providerPrefix  = "prov/"
	runPrefix       = "run/"
	queuePrefix     = "queue/"
	offerPrefix     = "offer/"
	jobOffersPrefix = "joboffers/"
	pendingPrefix   = "pending/"
)

// wrap annotates a badger error. A closed database also matches
// dispatch.ErrStoreClosed.
func wrap(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("dispatch/badger: %s: %w: %w", op, dispatch.ErrStoreClosed, err)
	}
	return fmt.Errorf("dispatch/badger: %s: %w", op, err)
}

// update runs fn in a read-write transaction, rerunning it on
// badger.ErrConflict. Errors returned by fn pass through.
func (s *Store) update(ctx context.Context, op string, fn func(t tx) error) error {
	for range s.maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		var fnErr error
		err := s.db.Update(func(txn *badger.Txn) error {
			fnErr = fn(tx{txn})
			return fnErr
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, badger.ErrConflict):
			continue
		case fnErr != nil:
			return fnErr
		default:
			return wrap(op, err)
		}
	}
	return fmt.Errorf("dispatch/badger: %s: %w: too many conflicting writers", op, dispatch.ErrStoreUnavailable)
}

// view runs fn in a read-only transaction.
func (s *Store) view(ctx context.Context, op string, fn func(t tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var fnErr error
	err := s.db.View(func(txn *badger.Txn) error {
		fnErr = fn(tx{txn})
		return fnErr
	})
	if err != nil && fnErr == nil {
		return wrap(op, err)
	}
	return err
}

// tx decodes and encodes records inside a badger transaction.
type tx struct{ txn *badger.Txn }

// get decodes the value at key into v. It reports false when the key is
// missing.
func (t tx) get(key string, v any) (bool, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get "+key, err)
	}
	if err := item.Value(func(b []byte) error { return record.Unmarshal(b, v) }); err != nil {
		return false, fmt.Errorf("dispatch/badger: decode %s: %w", key, err)
	}
	return true, nil
}

func (t tx) has(key string) (bool, error) {
	_, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get "+key, err)
	}
	return true, nil
}

func (t tx) put(key string, v any) error {
	b, err := record.Marshal(v)
	if err != nil {
		return fmt.Errorf("dispatch/badger: encode %s: %w", key, err)
	}
	if err := t.txn.Set([]byte(key), b); err != nil {
		return wrap("set "+key, err)
	}
	return nil
}

func (t tx) del(key string) error {
	if err := t.txn.Delete([]byte(key)); err != nil {
		return wrap("delete "+key, err)
	}
	return nil
}

// scan decodes every value under prefix, in key order.
func scan[T any](t tx, prefix string) ([]*T, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var out []*T
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		rec := new(T)
		if err := item.Value(func(b []byte) error { return record.Unmarshal(b, rec) }); err != nil {
			return nil, fmt.Errorf("dispatch/badger: decode %s: %w", item.Key(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// count counts the keys under prefix without reading values.
func count(t tx, prefix string) int64 {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var n int64
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n
}

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
