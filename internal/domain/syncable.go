package domain

import "time"

// Syncable provides the common fields of every locally stored record.
// This gets embedded in each record kind so the store can treat versions and timestamps uniformly.
type Syncable struct {
	ID        string    `json:"id" validate:"required"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is bumped by the store on every write. A write carrying a
	// stale version is rejected with a conflict.
	Version int64 `json:"version"`
}

// RecordID returns the record identifier.
func (s *Syncable) RecordID() string {
	return s.ID
}

// RecordVersion returns the version the record was read at.
func (s *Syncable) RecordVersion() int64 {
	return s.Version
}

// SetVersion overwrites the version. Only the store should call this.
func (s *Syncable) SetVersion(v int64) {
	s.Version = v
}

// Touch updates the UpdatedAt timestamp to the current time.
// Call this whenever the underlying record changes.
func (s *Syncable) Touch() {
	s.UpdatedAt = time.Now()
}

// InitTimestamps sets both CreatedAt and UpdatedAt to now.
// Call this when creating a new record.
func (s *Syncable) InitTimestamps() {
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
}
