package sensorcache

import (
	"context"
	"sort"
)

// TieredBackend keeps a fast local tier in front of a slower remote tier.
// Writes land in both tiers so the remote copy survives loss of the local one;
// reads prefer the hot tier and promote misses from the cold tier.
type TieredBackend struct {
	hot  StorageBackend // local storage
	cold StorageBackend // remote storage
}

// NewTieredBackend creates a tiered storage backend.
func NewTieredBackend(hot, cold StorageBackend) *TieredBackend {
	return &TieredBackend{
		hot:  hot,
		cold: cold,
	}
}

func (t *TieredBackend) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := t.hot.Read(ctx, key)
	if err == nil {
		return data, nil
	}

	data, err = t.cold.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	// Promote to hot storage
	_ = t.hot.Write(ctx, key, data)
	return data, nil
}

func (t *TieredBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := t.cold.Write(ctx, key, data); err != nil {
		return err
	}
	return t.hot.Write(ctx, key, data)
}

func (t *TieredBackend) Delete(ctx context.Context, key string) error {
	if err := t.cold.Delete(ctx, key); err != nil {
		return err
	}
	return t.hot.Delete(ctx, key)
}

func (t *TieredBackend) List(ctx context.Context, prefix string) ([]string, error) {
	hotKeys, err := t.hot.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	coldKeys, err := t.cold.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	// Merge and deduplicate
	seen := make(map[string]bool, len(hotKeys))
	for _, k := range hotKeys {
		seen[k] = true
	}
	for _, k := range coldKeys {
		if !seen[k] {
			hotKeys = append(hotKeys, k)
		}
	}
	sort.Strings(hotKeys)
	return hotKeys, nil
}

func (t *TieredBackend) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := t.hot.Exists(ctx, key)
	if err == nil && exists {
		return true, nil
	}
	return t.cold.Exists(ctx, key)
}

func (t *TieredBackend) Close() error {
	errHot := t.hot.Close()
	errCold := t.cold.Close()
	if errHot != nil {
		return errHot
	}
	return errCold
}
