// Package store persists workflow records behind a get/put/compareAndSwap
// key-value contract. Every record carries a version that increases by one on
// each successful write; compare-and-swap is the only way services serialize
// concurrent writers.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by CompareAndSwap when the stored version
	// differs from the expected one (including create-if-absent on an existing key).
	ErrVersionConflict = errors.New("record version conflict")
	// ErrSkipWrite may be returned by an Update mutation to leave the record untouched.
	ErrSkipWrite = errors.New("skip write")
)

// Record is a versioned JSON document.
type Record struct {
	Key       string
	Version   int64
	Data      []byte
	UpdatedAt time.Time
}

// KV is the persistence contract shared by the memory, postgres and redis backends.
type KV interface {
	Get(ctx context.Context, key string) (*Record, error)
	// Put writes unconditionally and returns the new version.
	Put(ctx context.Context, key string, data []byte) (int64, error)
	// CompareAndSwap writes only if the stored version equals expectedVersion.
	// expectedVersion 0 means the key must not exist yet.
	CompareAndSwap(ctx context.Context, key string, expectedVersion int64, data []byte) (int64, error)
	// Keys lists the stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Versioned is embedded by persisted entities to carry the record version
// between a read and the following compare-and-swap.
type Versioned struct {
	RowVersion int64 `json:"-"`
}

func (v *Versioned) GetRowVersion() int64     { return v.RowVersion }
func (v *Versioned) SetRowVersion(ver int64) { v.RowVersion = ver }

// Entity is satisfied by any pointer to a struct embedding Versioned.
type Entity interface {
	GetRowVersion() int64
	SetRowVersion(int64)
}
