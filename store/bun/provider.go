package bunstore

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/provider"
)

// UpsertProvider creates or replaces a provider. created_at and the
// learned statistics survive the conflict branch.
func (s *Store) UpsertProvider(ctx context.Context, p *provider.Provider) error {
	_, err := s.db.NewInsert().
		Model(toProviderModel(p)).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("categories = EXCLUDED.categories").
		Set("lat = EXCLUDED.lat").
		Set("lng = EXCLUDED.lng").
		Set("service_radius_km = EXCLUDED.service_radius_km").
		Set("areas = EXCLUDED.areas").
		Set("available = EXCLUDED.available").
		Set("schedule = EXCLUDED.schedule").
		Set("rating = EXCLUDED.rating").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return wrap("upsert provider", err)
	}
	return nil
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, providerID id.ProviderID) (*provider.Provider, error) {
	m := new(providerModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", providerID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrProviderNotFound
		}
		return nil, wrap("get provider", err)
	}
	return fromProviderModel(m)
}

// ListProviders returns matching providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context, opts provider.ListOpts) ([]*provider.Provider, error) {
	var models []providerModel
	q := s.db.NewSelect().Model(&models).Order("id")
	if opts.Category != "" {
		q = q.Where("? = ANY(categories)", opts.Category)
	}
	if opts.AvailableOnly {
		q = q.Where("available")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list providers", err)
	}

	out := make([]*provider.Provider, 0, len(models))
	for i := range models {
		p, err := fromProviderModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// SetAvailability toggles whether a provider receives offers.
func (s *Store) SetAvailability(ctx context.Context, providerID id.ProviderID, available bool) error {
	return s.updateProvider(ctx, "set availability", providerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("available = ?", available).Set("updated_at = NOW()")
	})
}

// RecordResponse folds a response latency into the provider's moving
// average. The first observation seeds it.
func (s *Store) RecordResponse(ctx context.Context, providerID id.ProviderID, latency time.Duration, accepted bool) error {
	secs := provider.SampleSeconds(latency)
	return s.updateProvider(ctx, "record response", providerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		q = q.Set(`avg_response_seconds = CASE
				WHEN avg_response_seconds <= 0 THEN ?0::double precision
				ELSE avg_response_seconds * (1 - ?1::double precision) + ?0::double precision * ?1::double precision
			END`, secs, provider.ResponseSmoothing)
		if accepted {
			q = q.Set("assigned = assigned + 1")
		}
		return q
	})
}

// RecordCompletion counts a completed job.
func (s *Store) RecordCompletion(ctx context.Context, providerID id.ProviderID) error {
	return s.updateProvider(ctx, "record completion", providerID, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("completed = completed + 1")
	})
}

func (s *Store) updateProvider(ctx context.Context, op string, providerID id.ProviderID, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	q := s.db.NewUpdate().Table("dispatch_providers").Where("id = ?", providerID.String())
	res, err := set(q).Exec(ctx)
	if err != nil {
		return wrap(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dispatch.ErrProviderNotFound
	}
	return nil
}
