package domain

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateTokenID is returned when appending a record whose token id is
// already present in the set.
var ErrDuplicateTokenID = errors.New("duplicate refresh token id")

// RefreshTokenRecord is the server-side state of one issued refresh token.
// Only the SHA-256 digest of the token is kept.
type RefreshTokenRecord struct {
	TokenID     string    `json:"tokenId"`
	HashedToken string    `json:"hashedToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Expired reports whether the record is no longer usable at now.
func (r RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// MatchesHash compares hashed against the stored digest in constant time.
func (r RefreshTokenRecord) MatchesHash(hashed string) bool {
	return subtle.ConstantTimeCompare([]byte(r.HashedToken), []byte(hashed)) == 1
}

// RefreshTokenSet is the ordered collection of an account's live refresh
// tokens. It remembers whether it was modified since it was loaded so that
// repositories only write it back when needed. The zero value is empty.
type RefreshTokenSet struct {
	records []RefreshTokenRecord
	dirty   bool
}

// NewRefreshTokenSet builds a clean set holding records.
func NewRefreshTokenSet(records ...RefreshTokenRecord) RefreshTokenSet {
	return RefreshTokenSet{records: append([]RefreshTokenRecord(nil), records...)}
}

// Append adds rec at the end of the set.
func (s *RefreshTokenSet) Append(rec RefreshTokenRecord) error {
	if _, ok := s.FindByID(rec.TokenID); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTokenID, rec.TokenID)
	}
	s.records = append(s.records, rec)
	s.dirty = true
	return nil
}

// FindByID returns the record with the given token id.
func (s *RefreshTokenSet) FindByID(tokenID string) (RefreshTokenRecord, bool) {
	for _, r := range s.records {
		if r.TokenID == tokenID {
			return r, true
		}
	}
	return RefreshTokenRecord{}, false
}

// ReplaceAll swaps the whole collection for records.
func (s *RefreshTokenSet) ReplaceAll(records ...RefreshTokenRecord) {
	s.records = append([]RefreshTokenRecord(nil), records...)
	s.dirty = true
}

// Clear drops every record.
func (s *RefreshTokenSet) Clear() {
	if len(s.records) == 0 {
		return
	}
	s.records = nil
	s.dirty = true
}

// Remove drops the record with the given token id and reports whether it
// was present.
func (s *RefreshTokenSet) Remove(tokenID string) bool {
	for i, r := range s.records {
		if r.TokenID == tokenID {
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// PruneExpired drops every record expired at now and returns how many were
// removed.
func (s *RefreshTokenSet) PruneExpired(now time.Time) int {
	kept := s.records[:0:0]
	for _, r := range s.records {
		if !r.Expired(now) {
			kept = append(kept, r)
		}
	}
	removed := len(s.records) - len(kept)
	if removed > 0 {
		s.records = kept
		s.dirty = true
	}
	return removed
}

// Records returns a copy of the records in order.
func (s *RefreshTokenSet) Records() []RefreshTokenRecord {
	return append([]RefreshTokenRecord(nil), s.records...)
}

// Len returns the number of records.
func (s *RefreshTokenSet) Len() int {
	return len(s.records)
}

// Dirty reports whether the set changed since it was loaded or last marked
// clean.
func (s *RefreshTokenSet) Dirty() bool {
	return s.dirty
}

// MarkClean records that the current contents have been persisted.
func (s *RefreshTokenSet) MarkClean() {
	s.dirty = false
}

// Clone returns an independent copy, preserving the dirty flag.
func (s *RefreshTokenSet) Clone() *RefreshTokenSet {
	return &RefreshTokenSet{records: s.Records(), dirty: s.dirty}
}

// MarshalJSON encodes the set as a JSON array.
func (s RefreshTokenSet) MarshalJSON() ([]byte, error) {
	if s.records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.records)
}

// UnmarshalJSON decodes a JSON array into a clean set.
func (s *RefreshTokenSet) UnmarshalJSON(data []byte) error {
	var records []RefreshTokenRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	*s = NewRefreshTokenSet(records...)
	return nil
}
