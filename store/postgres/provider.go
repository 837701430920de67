package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	dispatch "github.com/CorbanSy/PropDash-sub000"
	"github.com/CorbanSy/PropDash-sub000/id"
	"github.com/CorbanSy/PropDash-sub000/provider"
)

const providerColumns = `
	id, name, categories, lat, lng, service_radius_km, areas, available,
	schedule, rating, avg_response_seconds, assigned, completed,
	created_at, updated_at`

// UpsertProvider creates or replaces a provider. The conflict branch
// leaves created_at and the learned statistics untouched.
func (s *Store) UpsertProvider(ctx context.Context, p *provider.Provider) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_providers (`+providerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			categories = EXCLUDED.categories,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			service_radius_km = EXCLUDED.service_radius_km,
			areas = EXCLUDED.areas,
			available = EXCLUDED.available,
			schedule = EXCLUDED.schedule,
			rating = EXCLUDED.rating,
			updated_at = EXCLUDED.updated_at`,
		p.ID.String(), p.Name, nonNil(p.Categories), p.Location.Lat, p.Location.Lng,
		p.ServiceRadiusKm, nonNil(p.Areas), p.Available, dayPartsToStrings(p.Schedule),
		p.Rating, p.AvgResponseSeconds, p.Assigned, p.Completed,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return wrap("upsert provider", err)
	}
	return nil
}

// GetProvider returns a provider by ID.
func (s *Store) GetProvider(ctx context.Context, providerID id.ProviderID) (*provider.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM dispatch_providers WHERE id = $1`, providerID.String())

	p, err := scanProvider(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dispatch.ErrProviderNotFound
		}
		return nil, wrap("get provider", err)
	}
	return p, nil
}

// ListProviders returns matching providers ordered by ID.
func (s *Store) ListProviders(ctx context.Context, opts provider.ListOpts) ([]*provider.Provider, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+providerColumns+`
		FROM dispatch_providers
		WHERE ($1 = '' OR $1 = ANY(categories))
		  AND (NOT $2 OR available)
		ORDER BY id
		LIMIT NULLIF($3, 0)`,
		opts.Category, opts.AvailableOnly, opts.Limit,
	)
	if err != nil {
		return nil, wrap("list providers", err)
	}
	defer rows.Close()

	var out []*provider.Provider
	for rows.Next() {
		p, scanErr := scanProvider(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("dispatch/postgres: scan provider row: %w", scanErr)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate provider rows", err)
	}
	return out, nil
}

// SetAvailability toggles whether a provider receives offers.
func (s *Store) SetAvailability(ctx context.Context, providerID id.ProviderID, available bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatch_providers SET available = $2, updated_at = NOW() WHERE id = $1`,
		providerID.String(), available,
	)
	if err != nil {
		return wrap("set availability", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrProviderNotFound
	}
	return nil
}

// RecordResponse folds a response latency into the provider's moving
// average. The first observation seeds the average.
func (s *Store) RecordResponse(ctx context.Context, providerID id.ProviderID, latency time.Duration, accepted bool) error {
	secs := provider.SampleSeconds(latency)
	tag, err := s.pool.Exec(ctx, `
		UPDATE dispatch_providers SET
			avg_response_seconds = CASE
				WHEN avg_response_seconds <= 0 THEN $2
				ELSE avg_response_seconds * (1 - $3) + $2 * $3
			END,
			assigned = assigned + CASE WHEN $4 THEN 1 ELSE 0 END
		WHERE id = $1`,
		providerID.String(), secs, provider.ResponseSmoothing, accepted,
	)
	if err != nil {
		return wrap("record response", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrProviderNotFound
	}
	return nil
}

// RecordCompletion counts a completed job.
func (s *Store) RecordCompletion(ctx context.Context, providerID id.ProviderID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dispatch_providers SET completed = completed + 1 WHERE id = $1`,
		providerID.String(),
	)
	if err != nil {
		return wrap("record completion", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.ErrProviderNotFound
	}
	return nil
}

func scanProvider(row pgx.Row) (*provider.Provider, error) {
	var (
		p        provider.Provider
		schedule []string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Categories, &p.Location.Lat, &p.Location.Lng,
		&p.ServiceRadiusKm, &p.Areas, &p.Available, &schedule,
		&p.Rating, &p.AvgResponseSeconds, &p.Assigned, &p.Completed,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Schedule = stringsToDayParts(schedule)
	return &p, nil
}
