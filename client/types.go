package client

// CellUpdate is one edit as captured by the UI: the value the editor last
// observed and the value they want to write. Force bypasses the server-side
// compare and is normally set only when replaying a resolved conflict.
type CellUpdate struct {
	Table         string
	EntityID      string
	FieldID       string
	OriginalValue any
	NewValue      any
	Force         bool
}

// UpdateResult is the terminal outcome of one orchestrated update. Exactly
// one of Success, Conflict or EditAgain is set on a completed call; Conflict
// only appears internally (a conflict either resolves or surfaces as a
// ConflictError).
type UpdateResult struct {
	Success      bool
	Conflict     bool
	EditAgain    bool
	CurrentValue any
	UpdatedRange string
	UpdatedRows  int
}

// ConflictRecord is the triple needed to render a three-way diff: what the
// editor started from, what the server holds now, and what the editor wants.
// It lives only for the duration of the resolution dialog.
type ConflictRecord struct {
	EntityID      string
	FieldID       string
	OriginalValue any
	CurrentValue  any
	NewValue      any
}

// Resolution is the human decision that terminates a conflict.
type Resolution int

const (
	// ResolutionOverwrite replays the edit with force, discarding the
	// server's value.
	ResolutionOverwrite Resolution = iota + 1
	// ResolutionKeepServer accepts the server's value; no write occurs.
	ResolutionKeepServer
	// ResolutionEditAgain abandons the write and hands the server's value
	// back so the edit form can be re-seeded.
	ResolutionEditAgain
)

// ConflictResolver obtains a Resolution for a conflict, typically by showing
// a dialog. Returning an error means the user dismissed the dialog; that is
// surfaced as ErrResolutionCancelled, distinct from conflicts and network
// failures.
type ConflictResolver func(record ConflictRecord) (Resolution, error)

// BatchItem pairs one request's outcome with the error that stopped it, if
// any. Items correlate with the request slice by index.
type BatchItem struct {
	Result UpdateResult
	Err    error
}

// BatchResult aggregates per-item outcomes; Success is the logical AND of
// all items.
type BatchResult struct {
	Success bool
	Items   []BatchItem
}
