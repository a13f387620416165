package service

import (
	"time"

	officialmodels "civic/internal/officials/models"
	"civic/internal/verification/models"
	id "civic/pkg/domain"
)

// FlowState is where an official stands in the verification flow. It is
// derived from the profile and the latest request, never stored.
type FlowState string

const (
	StateIdle                FlowState = "idle"
	StateMethodSelection     FlowState = "method_selection"
	StateSubmittingChallenge FlowState = "submitting_challenge"
	StateAwaitingProof       FlowState = "awaiting_proof"
	StateUploadingDocuments  FlowState = "uploading_documents"
	StateAwaitingCode        FlowState = "awaiting_code"
	StateAwaitingReview      FlowState = "awaiting_review"
	StateSuccess             FlowState = "success"
	StateError               FlowState = "error"
)

// Snapshot is the resumable view of one official's flow.
type Snapshot struct {
	State             FlowState                         `json:"state"`
	OfficeID          *id.OfficeID                      `json:"office_id,omitempty"`
	ProfileStatus     officialmodels.VerificationStatus `json:"profile_status"`
	Request           *models.Request                   `json:"request,omitempty"`
	Failure           *Failure                          `json:"failure,omitempty"`
	ResendAvailableAt *time.Time                        `json:"resend_available_at,omitempty"`
}

func deriveState(profile *officialmodels.OfficialProfile, latest *models.Request) FlowState {
	if profile.IsVerified() {
		return StateSuccess
	}
	if profile.OfficeID == nil {
		return StateIdle
	}
	if latest == nil {
		return StateMethodSelection
	}
	switch latest.Status {
	case models.StatusVerified:
		return StateSuccess
	case models.StatusRejected, models.StatusExpired:
		return StateError
	}
	switch latest.Method {
	case id.MethodGovernmentEmail:
		if latest.Email.Target == "" {
			return StateSubmittingChallenge
		}
		return StateAwaitingCode
	case id.MethodDocumentUpload:
		if latest.SubmittedAt == nil {
			return StateUploadingDocuments
		}
		return StateAwaitingReview
	case id.MethodWebsiteToken:
		switch {
		case latest.Website.Token == "":
			return StateSubmittingChallenge
		case latest.Website.OwnershipConfirmed:
			return StateAwaitingReview
		default:
			return StateAwaitingProof
		}
	}
	return StateError
}

// terminalFailure explains a rejected or expired request.
func terminalFailure(r *models.Request) *Failure {
	switch r.Status {
	case models.StatusRejected:
		return &Failure{Kind: KindUnknown, Detail: r.RejectionReason}
	case models.StatusExpired:
		if r.Method == id.MethodGovernmentEmail {
			return &Failure{Kind: KindExpiredCode, Detail: "verification request expired"}
		}
		return &Failure{Kind: KindUnknown, Detail: "verification request expired"}
	}
	return nil
}
