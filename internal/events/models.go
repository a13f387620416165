package events

import "time"

type Type string

const (
	OfficeClaimed        Type = "office.claimed"
	OfficeReleased       Type = "office.released"
	RequestStarted       Type = "verification.started"
	RequestCancelled     Type = "verification.cancelled"
	RequestExpired       Type = "verification.expired"
	CodeIssued           Type = "verification.code_issued"
	CodeVerified         Type = "verification.code_verified"
	CodeRejected         Type = "verification.code_rejected"
	DocumentsSubmitted   Type = "verification.documents_submitted"
	ReviewDecided        Type = "verification.review_decided"
	WebsiteTokenIssued   Type = "verification.website_token_issued"
	WebsiteChecked       Type = "verification.website_checked"
	ProfileStatusChanged Type = "profile.status_changed"
)

// Event is a fact emitted after an authoritative write. It never carries
// secrets: codes, tokens and evidence URLs stay out.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	OfficialID string    `json:"official_id,omitempty"`
	OfficeID   string    `json:"office_id,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Key partitions events per official so a consumer sees one official's
// history in order.
func (e Event) Key() string {
	if e.OfficialID != "" {
		return e.OfficialID
	}
	return e.OfficeID
}
