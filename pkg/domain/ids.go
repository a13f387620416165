package domain

import (
	"github.com/google/uuid"

	dErrors "civic/pkg/domain-errors"
)

// Typed identifiers keep office, official, request and reviewer IDs from
// being mixed up at compile time. Construct them with the Parse functions at
// trust boundaries; zero values mean "not set".
type (
	OfficeID   uuid.UUID
	OfficialID uuid.UUID
	RequestID  uuid.UUID
	ReviewerID uuid.UUID
)

// maxIDLength bounds input before it reaches uuid.Parse.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is too long")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return u, nil
}

func ParseOfficeID(s string) (OfficeID, error) {
	u, err := parseUUID("office id", s)
	return OfficeID(u), err
}

func ParseOfficialID(s string) (OfficialID, error) {
	u, err := parseUUID("official id", s)
	return OfficialID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID("request id", s)
	return RequestID(u), err
}

func ParseReviewerID(s string) (ReviewerID, error) {
	u, err := parseUUID("reviewer id", s)
	return ReviewerID(u), err
}

func NewOfficeID() OfficeID     { return OfficeID(uuid.New()) }
func NewOfficialID() OfficialID { return OfficialID(uuid.New()) }
func NewRequestID() RequestID   { return RequestID(uuid.New()) }
func NewReviewerID() ReviewerID { return ReviewerID(uuid.New()) }

func (id OfficeID) String() string   { return uuid.UUID(id).String() }
func (id OfficialID) String() string { return uuid.UUID(id).String() }
func (id RequestID) String() string  { return uuid.UUID(id).String() }
func (id ReviewerID) String() string { return uuid.UUID(id).String() }

func (id OfficeID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OfficialID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ReviewerID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// MarshalText lets typed IDs serialize as plain UUID strings in JSON.
func (id OfficeID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id OfficialID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id RequestID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id ReviewerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
