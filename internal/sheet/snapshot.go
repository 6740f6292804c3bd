// Package sheet models a point-in-time read of a spreadsheet table and
// resolves (entity, field) pairs to cell values and A1-style addresses.
package sheet

import (
	"fmt"
	"strings"
)

// Snapshot is one fresh read of an entire table. Row 0 is the header row
// mapping field identifiers to column positions. The header is fixed for the
// lifetime of a snapshot, but columns can be inserted or removed externally
// between snapshots, so resolved positions must never outlive the snapshot
// they came from.
type Snapshot struct {
	Rows [][]string
}

// idField is the header name of the identity column. Tables without an "id"
// header fall back to column 0.
const idField = "id"

// FieldColumn returns the column index of fieldID in the header row.
func (s Snapshot) FieldColumn(fieldID string) (int, bool) {
	if len(s.Rows) == 0 {
		return 0, false
	}
	for i, name := range s.Rows[0] {
		if name == fieldID {
			return i, true
		}
	}
	return 0, false
}

// idColumn returns the index of the identity column.
func (s Snapshot) idColumn() int {
	if col, ok := s.FieldColumn(idField); ok {
		return col
	}
	return 0
}

// EntityRow returns the index (into Rows) of the first data row whose
// identity cell equals entityID. Duplicate identifiers resolve to the first
// occurrence; uniqueness is not enforced.
func (s Snapshot) EntityRow(entityID string) (int, bool) {
	idCol := s.idColumn()
	for i := 1; i < len(s.Rows); i++ {
		row := s.Rows[i]
		if idCol < len(row) && row[idCol] == entityID {
			return i, true
		}
	}
	return 0, false
}

// MatchesEntity reports whether data row rowIdx exists in this snapshot and
// carries entityID in the identity column. Used to validate row hints taken
// from a cache against the fresh snapshot.
func (s Snapshot) MatchesEntity(rowIdx int, entityID string) bool {
	if rowIdx < 1 || rowIdx >= len(s.Rows) {
		return false
	}
	idCol := s.idColumn()
	row := s.Rows[rowIdx]
	return idCol < len(row) && row[idCol] == entityID
}

// ValueAt reads the cell at (rowIdx, col); cells beyond the row's length read
// as empty.
func (s Snapshot) ValueAt(rowIdx, col int) string {
	if rowIdx < 0 || rowIdx >= len(s.Rows) {
		return ""
	}
	row := s.Rows[rowIdx]
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// Value returns the current cell value for (entityID, fieldID). A row that is
// shorter than the field column reads as the empty string. The second return
// is false when the field or the entity cannot be located; that is a normal
// outcome, not an error.
func (s Snapshot) Value(entityID, fieldID string) (string, bool) {
	col, ok := s.FieldColumn(fieldID)
	if !ok {
		return "", false
	}
	rowIdx, ok := s.EntityRow(entityID)
	if !ok {
		return "", false
	}
	row := s.Rows[rowIdx]
	if col >= len(row) {
		return "", true
	}
	return row[col], true
}

// Address returns the store-native address of the cell for (entityID,
// fieldID), e.g. "Shots!C4". The header occupies row 1, so data row index i
// maps to sheet row i+1.
func (s Snapshot) Address(table, entityID, fieldID string) (string, bool) {
	col, ok := s.FieldColumn(fieldID)
	if !ok {
		return "", false
	}
	rowIdx, ok := s.EntityRow(entityID)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s!%s%d", table, ColumnLetter(col), rowIdx+1), true
}

// Record returns the row for entityID as a field→value map keyed by the
// header. Missing trailing cells read as empty strings.
func (s Snapshot) Record(entityID string) (map[string]string, bool) {
	rowIdx, ok := s.EntityRow(entityID)
	if !ok {
		return nil, false
	}
	return s.recordAt(rowIdx), true
}

// Records returns every data row as a field→value map, in sheet order.
func (s Snapshot) Records() []map[string]string {
	if len(s.Rows) < 2 {
		return []map[string]string{}
	}
	records := make([]map[string]string, 0, len(s.Rows)-1)
	for i := 1; i < len(s.Rows); i++ {
		records = append(records, s.recordAt(i))
	}
	return records
}

func (s Snapshot) recordAt(rowIdx int) map[string]string {
	header := s.Rows[0]
	row := s.Rows[rowIdx]
	record := make(map[string]string, len(header))
	for col, name := range header {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if col < len(row) {
			record[name] = row[col]
		} else {
			record[name] = ""
		}
	}
	return record
}

// ColumnLetter converts a zero-based column index to bijective base-26
// letters: 0→A, 25→Z, 26→AA, 701→ZZ, 702→AAA.
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var letters []byte
	n := index + 1
	for n > 0 {
		n--
		letters = append([]byte{byte('A' + n%26)}, letters...)
		n /= 26
	}
	return string(letters)
}
