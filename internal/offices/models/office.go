package models

import (
	"strings"
	"time"

	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

// GovernmentOffice is a public position such as "State Senator, District 15".
//
// Invariants:
//   - Claimed is true iff ClaimedBy is set
//   - at most one official holds an office at a time
//   - only the claim registry mutates Claimed/ClaimedBy
//   - offices are seeded administratively and never deleted here
type GovernmentOffice struct {
	ID           id.OfficeID    `json:"id"`
	Title        string         `json:"title"`
	Jurisdiction string         `json:"jurisdiction"`
	District     string         `json:"district,omitempty"`
	Claimed      bool           `json:"claimed"`
	ClaimedBy    *id.OfficialID `json:"claimed_by,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func NewGovernmentOffice(officeID id.OfficeID, title, jurisdiction, district string, now time.Time) (*GovernmentOffice, error) {
	title = strings.TrimSpace(title)
	if officeID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "office id is required")
	}
	if title == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "office title is required")
	}
	return &GovernmentOffice{
		ID:           officeID,
		Title:        title,
		Jurisdiction: strings.TrimSpace(jurisdiction),
		District:     strings.TrimSpace(district),
		UpdatedAt:    now,
	}, nil
}

// DisplayName renders "Title, District N" the way directories list offices.
func (o *GovernmentOffice) DisplayName() string {
	if o.District == "" {
		return o.Title
	}
	return o.Title + ", " + o.District
}

func (o *GovernmentOffice) IsAvailable() bool {
	return !o.Claimed
}

func (o *GovernmentOffice) IsClaimedBy(officialID id.OfficialID) bool {
	return o.ClaimedBy != nil && *o.ClaimedBy == officialID
}

// ApplyClaim is the in-memory compare-and-set. Callers hold the store lock.
func (o *GovernmentOffice) ApplyClaim(officialID id.OfficialID, now time.Time) error {
	if o.Claimed {
		return dErrors.New(dErrors.CodeAlreadyClaimed, "office is already claimed")
	}
	claimant := officialID
	o.Claimed = true
	o.ClaimedBy = &claimant
	o.UpdatedAt = now
	return nil
}

// ApplyRelease clears the claim unconditionally and returns the former
// claimant, if any.
func (o *GovernmentOffice) ApplyRelease(now time.Time) *id.OfficialID {
	prev := o.ClaimedBy
	o.Claimed = false
	o.ClaimedBy = nil
	o.UpdatedAt = now
	return prev
}

func (o *GovernmentOffice) CheckInvariant() error {
	if o.Claimed != (o.ClaimedBy != nil) {
		return dErrors.New(dErrors.CodeInvariantViolation, "claimed flag must match claimant")
	}
	return nil
}

func (o *GovernmentOffice) Clone() *GovernmentOffice {
	c := *o
	if o.ClaimedBy != nil {
		v := *o.ClaimedBy
		c.ClaimedBy = &v
	}
	return &c
}

// SearchText is the lowercase haystack that queries match against.
func (o *GovernmentOffice) SearchText() string {
	return strings.ToLower(o.Title + " " + o.Jurisdiction + " " + o.District)
}
