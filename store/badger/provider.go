package badger

import (
	"context"
	"slices"
	"time"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/provider"
	"github.com/CorbanSy/PropDash-sub000/store/internal/record"
)

// UpsertProvider creates or replaces a provider, keeping the statistics
// already on file.
func (s *Store) UpsertProvider(ctx context.Context, p *provider.Provider) error {
	key := providerPrefix + p.ID.String()
	return s.update(ctx, "upsert provider", func(t tx) error {
		rec := record.FromProvider(p)
		var prev record.Provider
		found, err := t.get(key, &prev)
		if err != nil {
			return err
		}
		if found {
			rec.CreatedAt = prev.CreatedAt
			rec.AvgResponseSeconds = prev.AvgResponseSeconds
			rec.Assigned = prev.Assigned
			rec.Completed = prev.Completed
		}
		return t.put(key, rec)
	})
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, providerID id.ProviderID) (*provider.Provider, error) {
	var rec record.Provider
	err := s.view(ctx, "get provider", func(t tx) error {
		ok, err := t.get(providerPrefix+providerID.String(), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return dispatch.ErrProviderNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec.Provider()
}

// ListProviders returns matching providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context, opts provider.ListOpts) ([]*provider.Provider, error) {
	var recs []*record.Provider
	err := s.view(ctx, "list providers", func(t tx) (err error) {
		recs, err = scan[record.Provider](t, providerPrefix)
		return err
	})
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
	}
	slices.SortFunc(out, func(a, b *provider.Provider) int { return a.ID.Compare(b.ID) })
	return page(out, 0, opts.Limit), nil
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
	key := providerPrefix + providerID.String()
	return s.update(ctx, op, func(t tx) error {
		var rec record.Provider
		ok, err := t.get(key, &rec)
		if err != nil {
			return err
		}
		if !ok {
			return dispatch.ErrProviderNotFound
		}
		mutate(&rec)
		return t.put(key, &rec)
	})
}
