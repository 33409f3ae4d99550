package pumpsim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/Vee-data-analytics/new-sim/pkg/api"
)

const cacheCleanupFactor = 2

// Backoffice is the remote service the simulator talks to.
// *api.BackofficeAPI satisfies it.
type Backoffice interface {
	FetchPumps(ctx context.Context) ([]api.Pump, error)
	FetchNozzles(ctx context.Context, pumpID *int64) ([]api.Nozzle, error)
	FetchFuelTypes(ctx context.Context) ([]api.FuelType, error)
	PostTransaction(ctx context.Context, tx api.Transaction) error
}

// Reference holds the lists offered to the operator.
type Reference struct {
	Pumps     []api.Pump     `json:"pumps"`
	Nozzles   []api.Nozzle   `json:"nozzles"`
	FuelTypes []api.FuelType `json:"fuel_types"`
}

// ReferenceLoader fetches reference lists. Failures never reach the caller:
// they are logged and an empty list is returned.
type ReferenceLoader struct {
	backoffice Backoffice
	cache      *cache.Cache
	log        *slog.Logger
}

// NewReferenceLoader caches successful fetches for ttl. A zero ttl disables caching.
func NewReferenceLoader(backoffice Backoffice, ttl time.Duration, logger *slog.Logger) *ReferenceLoader {
	l := &ReferenceLoader{backoffice: backoffice, log: logger}
	if ttl > 0 {
		l.cache = cache.New(ttl, cacheCleanupFactor*ttl)
	}
	return l
}

// Pumps returns the pump list, or an empty list when the fetch fails.
func (l *ReferenceLoader) Pumps(ctx context.Context) []api.Pump {
	return load(ctx, l, api.PumpsEndpoint, l.backoffice.FetchPumps)
}

// Nozzles returns the nozzles of pumpID, or every nozzle when pumpID is nil.
func (l *ReferenceLoader) Nozzles(ctx context.Context, pumpID *int64) []api.Nozzle {
	key := api.NozzlesEndpoint
	if pumpID != nil {
		key = fmt.Sprintf("%s?pump=%d", api.NozzlesEndpoint, *pumpID)
	}
	return load(ctx, l, key, func(ctx context.Context) ([]api.Nozzle, error) {
		return l.backoffice.FetchNozzles(ctx, pumpID)
	})
}

// FuelTypes returns the fuel type list, or an empty list when the fetch fails.
func (l *ReferenceLoader) FuelTypes(ctx context.Context) []api.FuelType {
	return load(ctx, l, api.FuelTypesEndpoint, l.backoffice.FetchFuelTypes)
}

// Load fetches all three lists.
func (l *ReferenceLoader) Load(ctx context.Context) Reference {
	return Reference{
		Pumps:     l.Pumps(ctx),
		Nozzles:   l.Nozzles(ctx, nil),
		FuelTypes: l.FuelTypes(ctx),
	}
}

// Invalidate drops every cached list.
func (l *ReferenceLoader) Invalidate() {
	if l.cache != nil {
		l.cache.Flush()
	}
}

func load[T any](ctx context.Context, l *ReferenceLoader, key string, fetch func(context.Context) ([]T, error)) []T {
	if l.cache != nil {
		if cached, found := l.cache.Get(key); found {
			l.log.Debug("Using cached data", "key", key)
			return cached.([]T)
		}
	}

	items, err := fetch(ctx)
	if err != nil {
		l.log.Error("Failed to fetch reference data", "endpoint", key, "error", err)
		return []T{}
	}
	if items == nil {
		items = []T{}
	}

	if l.cache != nil {
		l.cache.Set(key, items, cache.DefaultExpiration)
	}
	l.log.Debug("Reference data fetched", "endpoint", key, "count", len(items))
	return items
}
