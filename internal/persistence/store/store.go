// Package store is the durable home of map records and their change logs.
//
// Each map has at most one base batch and any number of incremental batches
// written after it. Writes inside one transaction are capped at MaxTxWrites.
package store

import (
	"context"
	"errors"

	"wallandshadow.io/internal/maps/change"
	"wallandshadow.io/internal/maps/feature"
)

// MaxTxWrites is the most writes one transaction may perform.
const MaxTxWrites = 500

// BaseID is the document id of a map's base batch.
const BaseID = "base"

var (
	ErrNotFound          = errors.New("not found")
	ErrTooManyOperations = errors.New("too many operations in one transaction")
	ErrClosed            = errors.New("store closed")
)

// Doc is a stored batch. Seq grows with every write to the log and is never
// reused, so a rewritten base always has a higher Seq than its predecessor.
type Doc struct {
	ID    string       `json:"id"`
	Seq   int64        `json:"seq"`
	Batch change.Batch `json:"batch"`
}

// Tx is the view of one map's log inside a transaction.
type Tx interface {
	GetBase(ctx context.Context) (Doc, bool, error)
	SetBase(ctx context.Context, b change.Batch) error
	Delete(ctx context.Context, ids ...string) error
}

type Store interface {
	GetMap(ctx context.Context, mapID string) (feature.Map, error)
	GetBase(ctx context.Context, mapID string) (Doc, bool, error)
	// ListIncremental returns up to limit of the oldest incremental batches,
	// in the order they were appended. Timestamps rise in the same order.
	ListIncremental(ctx context.Context, mapID string, limit int) ([]Doc, error)
	RunTransaction(ctx context.Context, mapID string, fn func(Tx) error) error
}
