package cellstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"slate/api/internal/sheet"
	"slate/api/internal/tablestore"
)

// fakeAPI is an in-memory table service.
type fakeAPI struct {
	tables        map[string][][]string
	snapshotCalls int
	writeCalls    int
	snapshotErr   error
	writeErr      error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{tables: map[string][][]string{
		"Shots": {
			{"id", "title", "status"},
			{"shot_001", "Opening Scene", "In Progress"},
			{"shot_002", "Chase", "Blocked"},
		},
	}}
}

func (f *fakeAPI) GetSnapshot(_ context.Context, table string) (sheet.Snapshot, error) {
	f.snapshotCalls++
	if f.snapshotErr != nil {
		return sheet.Snapshot{}, f.snapshotErr
	}
	rows, ok := f.tables[table]
	if !ok {
		return sheet.Snapshot{}, tablestore.ErrTableNotFound
	}
	copied := make([][]string, len(rows))
	for i, row := range rows {
		copied[i] = append([]string(nil), row...)
	}
	return sheet.Snapshot{Rows: copied}, nil
}

func (f *fakeAPI) WriteCell(_ context.Context, table, address, value string) (tablestore.WriteResult, error) {
	f.writeCalls++
	if f.writeErr != nil {
		return tablestore.WriteResult{}, f.writeErr
	}
	rows, ok := f.tables[table]
	if !ok {
		return tablestore.WriteResult{}, tablestore.ErrTableNotFound
	}
	rowIdx, col, err := parseAddress(address)
	if err != nil {
		return tablestore.WriteResult{}, err
	}
	for len(rows[rowIdx]) <= col {
		rows[rowIdx] = append(rows[rowIdx], "")
	}
	rows[rowIdx][col] = value
	return tablestore.WriteResult{UpdatedRange: address, UpdatedRows: 1}, nil
}

func (f *fakeAPI) TableExists(_ context.Context, table string) (bool, error) {
	_, ok := f.tables[table]
	return ok, nil
}

func (f *fakeAPI) cell(table, entityID, fieldID string) string {
	snap := sheet.Snapshot{Rows: f.tables[table]}
	value, _ := snap.Value(entityID, fieldID)
	return value
}

func parseAddress(address string) (rowIdx, col int, err error) {
	_, ref, found := strings.Cut(address, "!")
	if !found {
		return 0, 0, fmt.Errorf("bad address %q", address)
	}
	split := 0
	for split < len(ref) && ref[split] >= 'A' && ref[split] <= 'Z' {
		split++
	}
	letters, digits := ref[:split], ref[split:]
	if letters == "" || digits == "" {
		return 0, 0, fmt.Errorf("bad address %q", address)
	}
	for i := 0; i < len(letters); i++ {
		col = col*26 + int(letters[i]-'A') + 1
	}
	col--
	rowNum, err := strconv.Atoi(digits)
	if err != nil {
		return 0, 0, fmt.Errorf("bad address %q", address)
	}
	return rowNum - 1, col, nil
}

func TestUpdateCellMatchingOriginalWrites(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	result, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table:         "Shots",
		EntityID:      "shot_001",
		FieldID:       "title",
		OriginalValue: "Opening Scene",
		NewValue:      "Updated Scene",
	})
	if err != nil {
		t.Fatalf("UpdateCell failed: %v", err)
	}
	if !result.Success || result.Conflict {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.UpdatedAddress != "Shots!B2" {
		t.Fatalf("expected Shots!B2, got %q", result.UpdatedAddress)
	}
	if got := api.cell("Shots", "shot_001", "title"); got != "Updated Scene" {
		t.Fatalf("live value = %q, want Updated Scene", got)
	}
}

func TestUpdateCellStaleOriginalConflictsWithoutWriting(t *testing.T) {
	api := newFakeAPI()
	api.tables["Shots"][1][1] = "Changed Elsewhere"
	store := New(api)

	result, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table:         "Shots",
		EntityID:      "shot_001",
		FieldID:       "title",
		OriginalValue: "Opening Scene",
		NewValue:      "Updated Scene",
	})
	if err != nil {
		t.Fatalf("UpdateCell failed: %v", err)
	}
	if result.Success || !result.Conflict {
		t.Fatalf("expected conflict, got %+v", result)
	}
	if result.CurrentValue != "Changed Elsewhere" {
		t.Fatalf("expected currentValue Changed Elsewhere, got %q", result.CurrentValue)
	}
	if api.writeCalls != 0 {
		t.Fatalf("conflict must not write, got %d writes", api.writeCalls)
	}
	if got := api.cell("Shots", "shot_001", "title"); got != "Changed Elsewhere" {
		t.Fatalf("live value changed to %q", got)
	}
}

func TestUpdateCellForceOverwritesAndIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	api.tables["Shots"][1][1] = "Changed Elsewhere"
	store := New(api)

	req := UpdateRequest{
		Table:         "Shots",
		EntityID:      "shot_001",
		FieldID:       "title",
		OriginalValue: "Opening Scene",
		NewValue:      "Updated Scene",
		Force:         true,
	}
	for i := 0; i < 2; i++ {
		result, err := store.UpdateCell(context.Background(), req)
		if err != nil {
			t.Fatalf("forced UpdateCell %d failed: %v", i, err)
		}
		if !result.Success {
			t.Fatalf("forced UpdateCell %d not successful: %+v", i, result)
		}
	}
	if got := api.cell("Shots", "shot_001", "title"); got != "Updated Scene" {
		t.Fatalf("live value = %q, want Updated Scene", got)
	}
}

func TestUpdateCellEmptyOriginalMatchesMissingCell(t *testing.T) {
	api := newFakeAPI()
	// shot_002 has no fourth column at all; add a header for it.
	api.tables["Shots"][0] = append(api.tables["Shots"][0], "notes")
	store := New(api)

	result, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table:         "Shots",
		EntityID:      "shot_002",
		FieldID:       "notes",
		OriginalValue: "",
		NewValue:      "check continuity",
	})
	if err != nil {
		t.Fatalf("UpdateCell failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected missing cell to match empty original, got %+v", result)
	}
	if got := api.cell("Shots", "shot_002", "notes"); got != "check continuity" {
		t.Fatalf("live value = %q", got)
	}
}

func TestUpdateCellUnknownFieldOrEntity(t *testing.T) {
	store := New(newFakeAPI())

	_, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table: "Shots", EntityID: "shot_001", FieldID: "budget", NewValue: "x",
	})
	if !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("expected ErrCellNotFound for unknown field, got %v", err)
	}

	_, err = store.UpdateCell(context.Background(), UpdateRequest{
		Table: "Shots", EntityID: "shot_999", FieldID: "title", NewValue: "x",
	})
	if !errors.Is(err, ErrCellNotFound) {
		t.Fatalf("expected ErrCellNotFound for unknown entity, got %v", err)
	}
}

func TestUpdateCellUnknownTable(t *testing.T) {
	store := New(newFakeAPI())
	_, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table: "Nope", EntityID: "shot_001", FieldID: "title", NewValue: "x",
	})
	if !errors.Is(err, tablestore.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestUpdateCellPropagatesStoreUnavailable(t *testing.T) {
	api := newFakeAPI()
	api.snapshotErr = &tablestore.UnavailableError{Table: "Shots", Err: errors.New("down")}
	store := New(api)
	_, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table: "Shots", EntityID: "shot_001", FieldID: "title", NewValue: "x",
	})
	if !tablestore.IsUnavailable(err) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
}

func TestApplyBatchPreservesOrderAndAggregatesConflicts(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	requests := []UpdateRequest{
		{Table: "Shots", EntityID: "shot_001", FieldID: "title", OriginalValue: "Opening Scene", NewValue: "Updated Scene"},
		{Table: "Shots", EntityID: "shot_002", FieldID: "status", OriginalValue: "wrong", NewValue: "Done"},
		{Table: "Shots", EntityID: "shot_002", FieldID: "title", OriginalValue: "Chase", NewValue: "Chase v2"},
	}
	batch, err := store.ApplyBatch(context.Background(), requests)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if len(batch.Results) != len(requests) {
		t.Fatalf("expected %d results, got %d", len(requests), len(batch.Results))
	}
	if batch.Success {
		t.Fatalf("expected batch failure with a conflict")
	}
	if batch.Updated != 2 {
		t.Fatalf("expected 2 updated, got %d", batch.Updated)
	}
	if !batch.Results[0].Success || !batch.Results[1].Conflict || !batch.Results[2].Success {
		t.Fatalf("unexpected per-item outcomes: %+v", batch.Results)
	}
	if len(batch.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(batch.Conflicts))
	}
	c := batch.Conflicts[0]
	if c.EntityID != "shot_002" || c.FieldID != "status" || c.CurrentValue != "Blocked" || c.NewValue != "Done" {
		t.Fatalf("unexpected conflict record: %+v", c)
	}
	// The conflicting item must not have blocked its siblings.
	if got := api.cell("Shots", "shot_002", "title"); got != "Chase v2" {
		t.Fatalf("sibling update lost, got %q", got)
	}
	if got := api.cell("Shots", "shot_002", "status"); got != "Blocked" {
		t.Fatalf("conflicted cell changed to %q", got)
	}
}

func TestApplyBatchRecordsItemErrorsWithoutAborting(t *testing.T) {
	api := newFakeAPI()
	store := New(api)

	requests := []UpdateRequest{
		{Table: "Shots", EntityID: "shot_999", FieldID: "title", NewValue: "x"},
		{Table: "Shots", EntityID: "shot_001", FieldID: "status", OriginalValue: "In Progress", NewValue: "Done"},
	}
	batch, err := store.ApplyBatch(context.Background(), requests)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if len(batch.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(batch.Results))
	}
	if len(batch.Errors) != 1 {
		t.Fatalf("expected 1 item error, got %v", batch.Errors)
	}
	if batch.Success {
		t.Fatalf("expected batch failure")
	}
	if got := api.cell("Shots", "shot_001", "status"); got != "Done" {
		t.Fatalf("second item lost, status = %q", got)
	}
}

func TestApplyBatchEmpty(t *testing.T) {
	store := New(newFakeAPI())
	batch, err := store.ApplyBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("ApplyBatch failed: %v", err)
	}
	if !batch.Success || len(batch.Results) != 0 {
		t.Fatalf("expected successful empty batch, got %+v", batch)
	}
}

// countingCache wraps a map to observe hint traffic.
type countingCache struct {
	hints  map[string]int
	hits   int
	stores int
}

func (c *countingCache) RowHint(_ context.Context, table, entityID string) (int, bool) {
	idx, ok := c.hints[table+":"+entityID]
	if ok {
		c.hits++
	}
	return idx, ok
}

func (c *countingCache) StoreRowHint(_ context.Context, table, entityID string, rowIdx int) {
	c.hints[table+":"+entityID] = rowIdx
	c.stores++
}

func TestIndexCacheHintIsValidatedAgainstSnapshot(t *testing.T) {
	api := newFakeAPI()
	cache := &countingCache{hints: map[string]int{"Shots:shot_002": 1}} // stale: shot_002 is row 2
	store := NewWithIndexCache(api, cache)

	result, err := store.UpdateCell(context.Background(), UpdateRequest{
		Table:         "Shots",
		EntityID:      "shot_002",
		FieldID:       "status",
		OriginalValue: "Blocked",
		NewValue:      "Done",
	})
	if err != nil || !result.Success {
		t.Fatalf("UpdateCell with stale hint failed: %v %+v", err, result)
	}
	if got := api.cell("Shots", "shot_002", "status"); got != "Done" {
		t.Fatalf("stale hint wrote the wrong cell, shot_002.status = %q", got)
	}
	if got := api.cell("Shots", "shot_001", "status"); got != "In Progress" {
		t.Fatalf("stale hint clobbered shot_001.status = %q", got)
	}
	if cache.stores != 1 || cache.hints["Shots:shot_002"] != 2 {
		t.Fatalf("expected refreshed hint, got %+v", cache.hints)
	}
}

func TestCanonical(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{"", ""},
		{true, "true"},
		{false, "false"},
		{float64(42), "42"},
		{float64(4.5), "4.5"},
		{[]any{"a", "b"}, `["a","b"]`},
		{map[string]any{"b": 1.0, "a": 2.0}, `{"a":2,"b":1}`},
	}
	for _, tc := range cases {
		if got := Canonical(tc.in); got != tc.want {
			t.Errorf("Canonical(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
