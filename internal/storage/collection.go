package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// collection is one JSON array persisted under a fixed key. Callers hold the
// store mutex around load/save pairs.
type collection[T any] struct {
	key string
	id  func(*T) string
}

func (c collection[T]) load(ctx context.Context, b Backend) ([]T, error) {
	raw, ok, err := b.Get(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", c.key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.key, err)
	}
	return items, nil
}

func (c collection[T]) save(ctx context.Context, b Backend, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", c.key, err)
	}
	if err := b.Set(ctx, c.key, string(data)); err != nil {
		return fmt.Errorf("saving %s: %w", c.key, err)
	}
	return nil
}

func (c collection[T]) index(items []T, id string) int {
	for i := range items {
		if c.id(&items[i]) == id {
			return i
		}
	}
	return -1
}

func (c collection[T]) insert(ctx context.Context, b Backend, rec T) error {
	items, err := c.load(ctx, b)
	if err != nil {
		return err
	}
	return c.save(ctx, b, append(items, rec))
}

// get returns a copy of the record with the given id, or nil.
func (c collection[T]) get(ctx context.Context, b Backend, id string) (*T, error) {
	items, err := c.load(ctx, b)
	if err != nil {
		return nil, err
	}
	if i := c.index(items, id); i >= 0 {
		rec := items[i]
		return &rec, nil
	}
	return nil, nil
}

// find returns a copy of the first record matching fn, or nil.
func (c collection[T]) find(ctx context.Context, b Backend, fn func(*T) bool) (*T, error) {
	items, err := c.load(ctx, b)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if fn(&items[i]) {
			rec := items[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (c collection[T]) filter(ctx context.Context, b Backend, fn func(*T) bool) ([]T, error) {
	items, err := c.load(ctx, b)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(items))
	for i := range items {
		if fn(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// update applies fn to the record with the given id and persists the
// collection. Unknown ids return nil without writing.
func (c collection[T]) update(ctx context.Context, b Backend, id string, fn func(*T)) (*T, error) {
	items, err := c.load(ctx, b)
	if err != nil {
		return nil, err
	}
	i := c.index(items, id)
	if i < 0 {
		return nil, nil
	}
	fn(&items[i])
	if err := c.save(ctx, b, items); err != nil {
		return nil, err
	}
	rec := items[i]
	return &rec, nil
}

// removeWhere drops every record matching fn and reports how many were removed.
// Nothing is written when no record matches.
func (c collection[T]) removeWhere(ctx context.Context, b Backend, fn func(*T) bool) (int, error) {
	items, err := c.load(ctx, b)
	if err != nil {
		return 0, err
	}
	kept := items[:0]
	for i := range items {
		if !fn(&items[i]) {
			kept = append(kept, items[i])
		}
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, c.save(ctx, b, kept)
}
