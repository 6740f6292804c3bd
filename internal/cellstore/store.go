// Package cellstore implements compare-and-swap updates of single cells in a
// shared, externally hosted table store. The store offers no transactions or
// row locks, so a write is guarded only by comparing the caller's last
// observed value against a fresh snapshot. The read-then-write window is a
// deliberate TOCTOU: a racing writer is detected by the next writer's own
// compare, not prevented.
package cellstore

import (
	"context"
	"errors"
	"fmt"

	"slate/api/internal/sheet"
	"slate/api/internal/tablestore"
)

// ErrCellNotFound reports that the (entity, field) pair does not resolve to a
// cell in the target table. A normal, non-retryable outcome.
var ErrCellNotFound = errors.New("cell not found")

// TableAPI is the slice of the table service the store needs. Implemented by
// tablestore.Client; tests supply an in-memory fake.
type TableAPI interface {
	GetSnapshot(ctx context.Context, table string) (sheet.Snapshot, error)
	WriteCell(ctx context.Context, table, address, value string) (tablestore.WriteResult, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

// IndexCache is an optional shortcut around the O(rows) snapshot scan for
// read-heavy, low-contention tables. A hint is only ever a starting point:
// it is re-validated against the fresh snapshot before use, so a stale cache
// can cost a scan but never a wrong cell.
type IndexCache interface {
	RowHint(ctx context.Context, table, entityID string) (int, bool)
	StoreRowHint(ctx context.Context, table, entityID string, rowIdx int)
}

// UpdateRequest is one compare-and-swap attempt. OriginalValue must be the
// value the caller actually observed, already canonicalized; Force bypasses
// the compare step.
type UpdateRequest struct {
	Table         string
	EntityID      string
	FieldID       string
	OriginalValue string
	NewValue      string
	Force         bool
}

// UpdateResult is the outcome of a completed attempt. Exactly one of Success
// and Conflict is true; non-conflict failures are reported as errors instead.
type UpdateResult struct {
	Success        bool
	Conflict       bool
	CurrentValue   string
	UpdatedAddress string
	UpdatedRows    int
}

// Conflict carries the triple a caller needs to render a three-way diff and
// to build a forced replay request.
type Conflict struct {
	EntityID      string `json:"entityId"`
	FieldID       string `json:"fieldId"`
	OriginalValue string `json:"originalValue"`
	CurrentValue  string `json:"currentValue"`
	NewValue      string `json:"newValue"`
}

// BatchResult aggregates a sequence of updates. Results preserves request
// order and always has one entry per request.
type BatchResult struct {
	Success   bool
	Updated   int
	Results   []UpdateResult
	Conflicts []Conflict
	Errors    []string
}

// Store performs cell updates against one TableAPI.
type Store struct {
	api   TableAPI
	cache IndexCache
}

func New(api TableAPI) *Store {
	return &Store{api: api}
}

// NewWithIndexCache wires an optional row-hint cache.
func NewWithIndexCache(api TableAPI, cache IndexCache) *Store {
	return &Store{api: api, cache: cache}
}

// UpdateCell runs one compare-and-swap:
//
//  1. fetch a fresh snapshot (never cached),
//  2. resolve the live value,
//  3. unless forced, compare it against the caller's original value and
//     report a conflict without writing when they differ,
//  4. write the new value at the resolved address.
func (s *Store) UpdateCell(ctx context.Context, req UpdateRequest) (UpdateResult, error) {
	snapshot, err := s.api.GetSnapshot(ctx, req.Table)
	if err != nil {
		return UpdateResult{}, err
	}

	col, ok := snapshot.FieldColumn(req.FieldID)
	if !ok {
		return UpdateResult{}, fmt.Errorf("field %q in table %q: %w", req.FieldID, req.Table, ErrCellNotFound)
	}
	rowIdx, ok := s.entityRow(ctx, snapshot, req.Table, req.EntityID)
	if !ok {
		return UpdateResult{}, fmt.Errorf("entity %q in table %q: %w", req.EntityID, req.Table, ErrCellNotFound)
	}

	currentValue := snapshot.ValueAt(rowIdx, col)
	if !req.Force && currentValue != req.OriginalValue {
		return UpdateResult{Conflict: true, CurrentValue: currentValue}, nil
	}

	address := fmt.Sprintf("%s!%s%d", req.Table, sheet.ColumnLetter(col), rowIdx+1)
	written, err := s.api.WriteCell(ctx, req.Table, address, req.NewValue)
	if err != nil {
		return UpdateResult{}, err
	}

	updatedRange := written.UpdatedRange
	if updatedRange == "" {
		updatedRange = address
	}
	updatedRows := written.UpdatedRows
	if updatedRows == 0 {
		updatedRows = 1
	}
	return UpdateResult{Success: true, CurrentValue: req.NewValue, UpdatedAddress: updatedRange, UpdatedRows: updatedRows}, nil
}

// ApplyBatch applies every request sequentially, in order, never aborting on
// a conflict or an item error. Sequential application keeps per-item retry
// behaviour predictable and bounds load on the backing store. Success is true
// only when every item wrote.
func (s *Store) ApplyBatch(ctx context.Context, requests []UpdateRequest) (BatchResult, error) {
	batch := BatchResult{
		Results: make([]UpdateResult, 0, len(requests)),
	}

	for _, req := range requests {
		result, err := s.UpdateCell(ctx, req)
		if err != nil {
			batch.Results = append(batch.Results, UpdateResult{})
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s.%s: %v", req.EntityID, req.FieldID, err))
			continue
		}
		batch.Results = append(batch.Results, result)
		if result.Conflict {
			batch.Conflicts = append(batch.Conflicts, Conflict{
				EntityID:      req.EntityID,
				FieldID:       req.FieldID,
				OriginalValue: req.OriginalValue,
				CurrentValue:  result.CurrentValue,
				NewValue:      req.NewValue,
			})
			continue
		}
		if result.Success {
			batch.Updated++
		}
	}

	batch.Success = len(batch.Conflicts) == 0 && len(batch.Errors) == 0
	return batch, nil
}

// entityRow locates the entity's row, trying the cache hint first. The hint
// is validated against the fresh snapshot; on a miss the full scan runs and
// the cache is refreshed.
func (s *Store) entityRow(ctx context.Context, snapshot sheet.Snapshot, table, entityID string) (int, bool) {
	if s.cache != nil {
		if hint, ok := s.cache.RowHint(ctx, table, entityID); ok && snapshot.MatchesEntity(hint, entityID) {
			return hint, true
		}
	}
	rowIdx, ok := snapshot.EntityRow(entityID)
	if !ok {
		return 0, false
	}
	if s.cache != nil {
		s.cache.StoreRowHint(ctx, table, entityID, rowIdx)
	}
	return rowIdx, true
}
