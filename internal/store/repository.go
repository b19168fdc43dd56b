package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "funding-workflow/internal/common/errors"
)

// DefaultMaxRetries bounds the read-mutate-CAS loop.
const DefaultMaxRetries = 3

// Repository is a typed view over KV for one entity kind. Keys are
// "<prefix>/<id>".
type Repository[T any, PT interface {
	*T
	Entity
}] struct {
	kv         KV
	prefix     string
	entity     string
	maxRetries int
}

func NewRepository[T any, PT interface {
	*T
	Entity
}](kv KV, prefix, entity string, maxRetries int) *Repository[T, PT] {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Repository[T, PT]{kv: kv, prefix: prefix, entity: entity, maxRetries: maxRetries}
}

func (r *Repository[T, PT]) Key(id string) string {
	return r.prefix + "/" + id
}

// Get loads the entity. A missing record yields a NOT_FOUND StandardError.
func (r *Repository[T, PT]) Get(ctx context.Context, id string) (PT, error) {
	rec, err := r.kv.Get(ctx, r.Key(id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewNotFoundError(r.entity, id)
		}
		return nil, apperrors.NewPersistenceFailedError("get "+r.entity, err)
	}
	return r.decode(rec)
}

// Create stores a new entity. It returns ErrVersionConflict (unwrapped) if the
// key already exists so callers can apply their own duplicate semantics.
func (r *Repository[T, PT]) Create(ctx context.Context, id string, entity PT) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("marshal %s: %w", r.entity, err))
	}

	version, err := r.kv.CompareAndSwap(ctx, r.Key(id), 0, data)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ErrVersionConflict
		}
		return apperrors.NewPersistenceFailedError("create "+r.entity, err)
	}
	entity.SetRowVersion(version)
	return nil
}

// Update runs a read-mutate-compare-and-swap loop. mutate sees a freshly
// decoded entity on every attempt; any error it returns aborts without a write.
// Returning ErrSkipWrite ends the loop successfully with the unchanged entity.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, mutate func(PT) error) (PT, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		current, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		expected := current.GetRowVersion()
		if err := mutate(current); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return current, nil
			}
			return nil, err
		}

		data, err := json.Marshal(current)
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("marshal %s: %w", r.entity, err))
		}

		version, err := r.kv.CompareAndSwap(ctx, r.Key(id), expected, data)
		if err == nil {
			current.SetRowVersion(version)
			return current, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, apperrors.NewPersistenceFailedError("update "+r.entity, err)
		}

		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewPersistenceFailedError("update "+r.entity, err)
		}
	}
	return nil, apperrors.NewPersistenceConflictError(r.Key(id), r.maxRetries)
}

// IDs lists the ids of every stored entity of this kind.
func (r *Repository[T, PT]) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.kv.Keys(ctx, r.prefix+"/")
	if err != nil {
		return nil, apperrors.NewPersistenceFailedError("list "+r.entity, err)
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, r.prefix+"/"))
	}
	return ids, nil
}

func (r *Repository[T, PT]) decode(rec *Record) (PT, error) {
	entity := PT(new(T))
	if err := json.Unmarshal(rec.Data, entity); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("decode %s %s: %w", r.entity, rec.Key, err))
	}
	entity.SetRowVersion(rec.Version)
	return entity, nil
}
