package redis

import (
	"context"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// UpsertProvider creates or replaces a provider, keeping the statistics
// already on file.
func (s *Store) UpsertProvider(ctx context.Context, p *provider.Provider) error {
	pID := p.ID.String()
	key := providerKey(pID)
	return s.atomically(ctx, "upsert provider", func(tx *goredis.Tx) error {
		rec := record.FromProvider(p)
		var prev record.Provider
		found, err := load(ctx, tx, key, &prev)
		if err != nil {
			return err
		}
		if found {
			rec.CreatedAt = prev.CreatedAt
			rec.AvgResponseSeconds = prev.AvgResponseSeconds
			rec.Assigned = prev.Assigned
			rec.Completed = prev.Completed
		}
		b, err := blob(rec)
		if err != nil {
			return err
		}
		return commit(ctx, tx, "upsert provider", func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, providerIDsKey, goredis.Z{Score: 0, Member: pID})
			return nil
		})
	}, key)
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, providerID id.ProviderID) (*provider.Provider, error) {
	var rec record.Provider
	ok, err := load(ctx, s.client, providerKey(providerID.String()), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dispatch.ErrProviderNotFound
	}
	return rec.Provider()
}

// ListProviders returns matching providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context, opts provider.ListOpts) ([]*provider.Provider, error) {
	ids, err := s.client.ZRange(ctx, providerIDsKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("list providers", err)
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = providerKey(v)
	}
	recs, err := loadMany[record.Provider](ctx, s.client, keys)
	if err != nil {
		return nil, err
	}

	out := make([]*provider.Provider, 0, len(recs))
	for _, rec := range recs {
		if opts.AvailableOnly && !rec.Available {
			continue
		}
		if opts.Category != "" && !slices.Contains(rec.Categories, opts.Category) {
			continue
		}
		p, err := rec.Provider()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// SetAvailability toggles whether a provider receives offers.
func (s *Store) SetAvailability(ctx context.Context, providerID id.ProviderID, available bool) error {
	return s.updateProvider(ctx, "set availability", providerID, func(rec *record.Provider) {
		rec.Available = available
		rec.UpdatedAt = time.Now().UTC()
	})
}

// RecordResponse folds a response latency into the provider's average.
func (s *Store) RecordResponse(ctx context.Context, providerID id.ProviderID, latency time.Duration, accepted bool) error {
	return s.updateProvider(ctx, "record response", providerID, func(rec *record.Provider) {
		rec.AvgResponseSeconds = provider.NextAverage(rec.AvgResponseSeconds, latency)
		if accepted {
			rec.Assigned++
		}
	})
}

// RecordCompletion counts a completed job.
func (s *Store) RecordCompletion(ctx context.Context, providerID id.ProviderID) error {
	return s.updateProvider(ctx, "record completion", providerID, func(rec *record.Provider) {
		rec.Completed++
	})
}

func (s *Store) updateProvider(ctx context.Context, op string, providerID id.ProviderID, mutate func(*record.Provider)) error {
	key := providerKey(providerID.String())
	return s.atomically(ctx, op, func(tx *goredis.Tx) error {
		var rec record.Provider
		ok, err := load(ctx, tx, key, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return dispatch.ErrProviderNotFound
		}
		mutate(&rec)
		b, err := blob(&rec)
		if err != nil {
			return err
		}
		return commit(ctx, tx, op, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
	}, key)
}
