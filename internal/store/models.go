package store

import "time"

// Member is a production crew member with API access.
type Member struct {
	ID           string
	Name         string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// CellAudit is one successful cell write: who changed which cell from what
// to what. This is the edit history surface of the tracker; the sheet itself
// keeps no history.
type CellAudit struct {
	ID         string    `json:"id"`
	TableName  string    `json:"table"`
	EntityID   string    `json:"entityId"`
	FieldID    string    `json:"fieldId"`
	OldValue   string    `json:"oldValue"`
	NewValue   string    `json:"newValue"`
	Forced     bool      `json:"forced"`
	MemberID   string    `json:"memberId"`
	MemberName string    `json:"memberName"`
	CreatedAt  time.Time `json:"createdAt"`
}
