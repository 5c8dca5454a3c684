package viewstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matzehuels/diagramzoom/pkg/cache"
)

// Persister writes store snapshots to a cache backend so views survive a
// restart of the preview host.
type Persister struct {
	Cache cache.Cache
	Key   string        // cache key, usually cache.Keyer.StateKey(document)
	TTL   time.Duration // zero keeps the snapshot forever
}

// Save writes the current snapshot of s.
func (p *Persister) Save(ctx context.Context, s *Store) error {
	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		return fmt.Errorf("viewstate: encode snapshot: %w", err)
	}
	if err := p.Cache.Set(ctx, p.Key, data, p.TTL); err != nil {
		return fmt.Errorf("viewstate: write snapshot: %w", err)
	}
	return nil
}

// Load merges the persisted snapshot into s and returns how many entries
// were restored. A missing snapshot is not an error.
func (p *Persister) Load(ctx context.Context, s *Store) (int, error) {
	data, ok, err := p.Cache.Get(ctx, p.Key)
	if err != nil {
		return 0, fmt.Errorf("viewstate: read snapshot: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var snap map[string]State
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("viewstate: decode snapshot: %w", err)
	}
	return s.Load(snap), nil
}
