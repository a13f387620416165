package testutil

import (
	"net/http"

	id "civic/pkg/domain"
	"civic/pkg/requestcontext"
)

// WithOfficial marks the request as authenticated by officialID, the way the
// bearer-token middleware would.
func WithOfficial(req *http.Request, officialID id.OfficialID) *http.Request {
	ctx := requestcontext.WithOfficialID(req.Context(), officialID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleOfficial)
	return req.WithContext(ctx)
}

// WithReviewer marks the request as authenticated by a reviewer.
func WithReviewer(req *http.Request, reviewerID id.ReviewerID) *http.Request {
	ctx := requestcontext.WithReviewerID(req.Context(), reviewerID)
	ctx = requestcontext.WithRole(ctx, requestcontext.RoleReviewer)
	return req.WithContext(ctx)
}
