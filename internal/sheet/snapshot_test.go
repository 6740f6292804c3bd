package sheet

import "testing"

func testSnapshot() Snapshot {
	return Snapshot{Rows: [][]string{
		{"id", "title", "status", "assignee"},
		{"shot_001", "Opening Scene", "In Progress", "alice"},
		{"shot_002", "Chase", "Blocked", ""},
		{"shot_003", "Finale"},
	}}
}

func TestColumnLetter(t *testing.T) {
	cases := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
	}
	for _, tc := range cases {
		if got := ColumnLetter(tc.index); got != tc.want {
			t.Errorf("ColumnLetter(%d) = %q, want %q", tc.index, got, tc.want)
		}
	}
}

func TestValueAndAddressAgree(t *testing.T) {
	snap := testSnapshot()

	value, ok := snap.Value("shot_001", "status")
	if !ok {
		t.Fatalf("expected value for shot_001.status")
	}
	if value != "In Progress" {
		t.Fatalf("expected In Progress, got %q", value)
	}

	addr, ok := snap.Address("Shots", "shot_001", "status")
	if !ok {
		t.Fatalf("expected address for shot_001.status")
	}
	// status is column C, shot_001 is the first data row (sheet row 2).
	if addr != "Shots!C2" {
		t.Fatalf("expected Shots!C2, got %q", addr)
	}
}

func TestValueForShortRowReadsEmpty(t *testing.T) {
	snap := testSnapshot()
	value, ok := snap.Value("shot_003", "assignee")
	if !ok {
		t.Fatalf("expected shot_003.assignee to resolve")
	}
	if value != "" {
		t.Fatalf("expected empty value for missing trailing cell, got %q", value)
	}
}

func TestUnknownFieldIsNotFound(t *testing.T) {
	snap := testSnapshot()
	if _, ok := snap.Value("shot_001", "budget"); ok {
		t.Fatalf("expected not-found for unknown field")
	}
	if _, ok := snap.Address("Shots", "shot_001", "budget"); ok {
		t.Fatalf("expected not-found address for unknown field")
	}
}

func TestUnknownEntityIsNotFound(t *testing.T) {
	snap := testSnapshot()
	if _, ok := snap.Value("shot_999", "title"); ok {
		t.Fatalf("expected not-found for unknown entity")
	}
}

func TestDuplicateEntityResolvesFirstMatch(t *testing.T) {
	snap := Snapshot{Rows: [][]string{
		{"id", "title"},
		{"shot_001", "First"},
		{"shot_001", "Second"},
	}}
	value, ok := snap.Value("shot_001", "title")
	if !ok || value != "First" {
		t.Fatalf("expected first occurrence to win, got %q ok=%v", value, ok)
	}
	addr, _ := snap.Address("Shots", "shot_001", "title")
	if addr != "Shots!B2" {
		t.Fatalf("expected Shots!B2, got %q", addr)
	}
}

func TestIdentityColumnFallsBackToFirstColumn(t *testing.T) {
	snap := Snapshot{Rows: [][]string{
		{"code", "title"},
		{"asset_01", "Tree"},
	}}
	value, ok := snap.Value("asset_01", "title")
	if !ok || value != "Tree" {
		t.Fatalf("expected fallback identity column, got %q ok=%v", value, ok)
	}
}

func TestIdentityColumnNotFirst(t *testing.T) {
	snap := Snapshot{Rows: [][]string{
		{"title", "id"},
		{"Tree", "asset_01"},
	}}
	value, ok := snap.Value("asset_01", "title")
	if !ok || value != "Tree" {
		t.Fatalf("expected id header column to be used, got %q ok=%v", value, ok)
	}
}

func TestEmptySnapshot(t *testing.T) {
	snap := Snapshot{}
	if _, ok := snap.Value("shot_001", "title"); ok {
		t.Fatalf("expected not-found on empty snapshot")
	}
	if records := snap.Records(); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestRecords(t *testing.T) {
	snap := testSnapshot()
	records := snap.Records()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0]["id"] != "shot_001" || records[0]["title"] != "Opening Scene" {
		t.Fatalf("unexpected first record: %v", records[0])
	}
	if records[2]["assignee"] != "" {
		t.Fatalf("expected padded empty assignee, got %q", records[2]["assignee"])
	}
}
