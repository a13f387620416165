package models

import (
	"strings"
	"time"

	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

// VerificationStatus is the public-facing trust state of an official.
type VerificationStatus string

const (
	StatusUnverified VerificationStatus = "unverified"
	StatusPending    VerificationStatus = "pending"
	StatusVerified   VerificationStatus = "verified"
	StatusRejected   VerificationStatus = "rejected"
	StatusExpired    VerificationStatus = "expired"
)

var validStatuses = map[VerificationStatus]bool{
	StatusUnverified: true,
	StatusPending:    true,
	StatusVerified:   true,
	StatusRejected:   true,
	StatusExpired:    true,
}

func (s VerificationStatus) IsValid() bool { return validStatuses[s] }

func (s VerificationStatus) String() string { return string(s) }

// OfficialProfile is a person's public record.
//
// Invariants:
//   - VerificationStatus is one of the known statuses
//   - VerificationStatus == verified implies VerificationMethod and VerifiedAt are set
//   - verification fields change only through ApplyStatus
//   - OfficeID changes only through LinkOffice/UnlinkOffice (office claim and release)
type OfficialProfile struct {
	ID                 id.OfficialID          `json:"id"`
	Name               string                 `json:"name"`
	OfficeID           *id.OfficeID           `json:"office_id,omitempty"`
	VerificationStatus VerificationStatus     `json:"verification_status"`
	VerificationMethod *id.VerificationMethod `json:"verification_method,omitempty"`
	VerifiedAt         *time.Time             `json:"verified_at,omitempty"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// NewOfficialProfile registers an unverified official without an office.
func NewOfficialProfile(officialID id.OfficialID, name string, now time.Time) (*OfficialProfile, error) {
	name = strings.TrimSpace(name)
	if officialID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "official id is required")
	}
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "official name is required")
	}
	if len(name) > 200 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "official name must be at most 200 characters")
	}
	return &OfficialProfile{
		ID:                 officialID,
		Name:               name,
		VerificationStatus: StatusUnverified,
		UpdatedAt:          now,
	}, nil
}

// IsVerified is the public visibility gate.
func (p *OfficialProfile) IsVerified() bool {
	return p.VerificationStatus == StatusVerified
}

// HoldsOffice reports whether the profile is linked to officeID.
func (p *OfficialProfile) HoldsOffice(officeID id.OfficeID) bool {
	return p.OfficeID != nil && *p.OfficeID == officeID
}

// ApplyStatus moves the profile to status. Moving to verified stamps the
// method and time; leaving verified clears them. Returns the previous status.
func (p *OfficialProfile) ApplyStatus(status VerificationStatus, method id.VerificationMethod, now time.Time) (VerificationStatus, error) {
	if !status.IsValid() {
		return "", dErrors.New(dErrors.CodeInvariantViolation, "unknown verification status: "+string(status))
	}
	previous := p.VerificationStatus
	if status == StatusVerified {
		if !method.IsValid() {
			return "", dErrors.New(dErrors.CodeInvariantViolation, "verified status requires a verification method")
		}
		m := method
		t := now
		p.VerificationMethod = &m
		p.VerifiedAt = &t
	} else {
		p.VerificationMethod = nil
		p.VerifiedAt = nil
	}
	p.VerificationStatus = status
	p.UpdatedAt = now
	return previous, nil
}

// CheckInvariant reports a violated verified invariant. Stores call it
// before persisting.
func (p *OfficialProfile) CheckInvariant() error {
	if !p.VerificationStatus.IsValid() {
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown verification status")
	}
	if p.VerificationStatus == StatusVerified && (p.VerificationMethod == nil || p.VerifiedAt == nil) {
		return dErrors.New(dErrors.CodeInvariantViolation, "verified profile must carry method and verified_at")
	}
	return nil
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (p *OfficialProfile) Clone() *OfficialProfile {
	c := *p
	if p.OfficeID != nil {
		o := *p.OfficeID
		c.OfficeID = &o
	}
	if p.VerificationMethod != nil {
		m := *p.VerificationMethod
		c.VerificationMethod = &m
	}
	if p.VerifiedAt != nil {
		t := *p.VerifiedAt
		c.VerifiedAt = &t
	}
	return &c
}
