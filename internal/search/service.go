package search

import (
	"context"
	"log"
	"sort"
	"strings"

	"slate/api/internal/sheet"
)

// Snapshotter reads a full table from the backing store. Used by the
// fallback scanner when Meilisearch is down.
type Snapshotter interface {
	GetSnapshot(ctx context.Context, table string) (sheet.Snapshot, error)
}

// Service is the facade that tries Meilisearch first and falls back to
// scanning fresh table snapshots. meili may be nil when unconfigured.
type Service struct {
	meili  *Meili
	tables Snapshotter
	// scanTables are the tables the fallback scanner walks when a query
	// names no table.
	scanTables []string
}

func NewService(meili *Meili, tables Snapshotter, scanTables []string) *Service {
	return &Service{meili: meili, tables: tables, scanTables: scanTables}
}

// Search tries Meilisearch if healthy, otherwise scans table snapshots.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to table scan: %v", err)
	}

	results := s.scan(ctx, q)
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// scan walks fresh snapshots looking for rows whose cells contain the
// query text. Slow but always consistent with the store.
func (s *Service) scan(ctx context.Context, q Query) []Result {
	tables := s.scanTables
	if q.Table != "" {
		tables = []string{q.Table}
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}

	results := make([]Result, 0, limit)
	for _, table := range tables {
		snap, err := s.tables.GetSnapshot(ctx, table)
		if err != nil {
			log.Printf("search: scan %s: %v", table, err)
			continue
		}
		for _, record := range snap.Records() {
			if needle != "" && !recordMatches(record, needle) {
				continue
			}
			results = append(results, Result{
				Table:    table,
				EntityID: record["id"],
				Snippet:  snippetFor(record, needle),
				Fields:   record,
			})
			if len(results) >= limit {
				return results
			}
		}
	}
	return results
}

func recordMatches(record map[string]string, needle string) bool {
	for _, value := range record {
		if strings.Contains(strings.ToLower(value), needle) {
			return true
		}
	}
	return false
}

func snippetFor(record map[string]string, needle string) string {
	if needle != "" {
		for _, value := range record {
			if strings.Contains(strings.ToLower(value), needle) {
				return value
			}
		}
	}
	return joinedText(record)
}

// IndexRow pushes one row into Meilisearch, fire-and-forget. Write paths
// never block on the search index.
func (s *Service) IndexRow(table, entityID string, record map[string]string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := EntityRecord{
		ID:       DocID(table, entityID),
		Table:    table,
		EntityID: entityID,
		Text:     joinedText(record),
		Fields:   record,
	}
	go func() {
		if err := s.meili.IndexEntity(rec); err != nil {
			log.Printf("search: index %s/%s: %v", table, entityID, err)
		}
	}()
}

// ReindexTable reads a whole table and pushes every row to Meilisearch.
func (s *Service) ReindexTable(ctx context.Context, table string) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	snap, err := s.tables.GetSnapshot(ctx, table)
	if err != nil {
		return err
	}
	records := snap.Records()
	recs := make([]EntityRecord, 0, len(records))
	for _, record := range records {
		entityID := record["id"]
		if entityID == "" {
			continue
		}
		recs = append(recs, EntityRecord{
			ID:       DocID(table, entityID),
			Table:    table,
			EntityID: entityID,
			Text:     joinedText(record),
			Fields:   record,
		})
	}
	return s.meili.IndexEntities(recs)
}

// joinedText flattens a record into one searchable string with a stable
// field order.
func joinedText(record map[string]string) string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if record[k] != "" {
			parts = append(parts, record[k])
		}
	}
	return strings.Join(parts, " ")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
