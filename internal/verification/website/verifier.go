// Package website implements the website-token method: the official
// publishes an issued token as a meta tag on a page they control and the
// verifier fetches the page to confirm it.
package website

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	officialmodels "civic/internal/officials/models"
	"civic/internal/verification/models"
	"civic/internal/verification/ports"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

// DefaultMetaName is the meta tag name officials publish the token under.
const DefaultMetaName = "civic-verification"

const tokenBytes = 4

type Store interface {
	Update(ctx context.Context, r *models.Request) error
}

type Projector interface {
	Apply(ctx context.Context, officialID id.OfficialID, outcome officialmodels.VerificationStatus, method id.VerificationMethod) error
}

// TokenSource produces a proof token. Production uses crypto/rand.
type TokenSource func() (string, error)

type Verifier struct {
	store     Store
	fetcher   ports.PageFetcher
	projector Projector
	logger    *slog.Logger
	metaName  string
	tokens    TokenSource
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func WithMetaName(name string) Option {
	return func(v *Verifier) {
		if name = strings.TrimSpace(name); name != "" {
			v.metaName = name
		}
	}
}

func WithTokenSource(src TokenSource) Option {
	return func(v *Verifier) {
		v.tokens = src
	}
}

func New(store Store, fetcher ports.PageFetcher, projector Projector, opts ...Option) *Verifier {
	v := &Verifier{
		store:     store,
		fetcher:   fetcher,
		projector: projector,
		metaName:  DefaultMetaName,
		tokens:    RandomToken,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RandomToken returns eight lowercase hex characters.
func RandomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MetaName is the tag name the official must publish.
func (v *Verifier) MetaName() string { return v.metaName }

// IssueToken generates a token for targetURL, replacing any previous token.
// Once ownership is confirmed the token is fixed.
func (v *Verifier) IssueToken(ctx context.Context, req *models.Request, targetURL string) (string, error) {
	if err := req.EnsureMethod(id.MethodWebsiteToken); err != nil {
		return "", err
	}
	if err := req.EnsurePending(); err != nil {
		return "", err
	}
	if req.Website.OwnershipConfirmed {
		return "", dErrors.New(dErrors.CodeConflict, "website ownership already confirmed; awaiting review")
	}
	target, err := ValidateURL(targetURL)
	if err != nil {
		return "", err
	}
	token, err := v.tokens()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
	}

	now := requestcontext.Now(ctx)
	req.Website = &models.WebsiteProof{Token: token, URL: target}
	req.UpdatedAt = now
	if err := v.store.Update(ctx, req); err != nil {
		return "", storeError(err)
	}

	v.logAudit(ctx, "website_token_issued",
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"host", hostOf(target),
	)
	return token, nil
}

// ValidateURL accepts absolute https URLs without credentials.
func ValidateURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Hostname() == "" || u.User != nil {
		return "", dErrors.New(dErrors.CodeValidation, "website must be an absolute https URL")
	}
	u.Fragment = ""
	return u.String(), nil
}

// Check fetches the page and compares its meta tag with the issued token.
// A match confirms ownership and leaves the request pending for a reviewer;
// the profile moves to pending. Fetch failures are retryable.
func (v *Verifier) Check(ctx context.Context, req *models.Request) error {
	if err := req.EnsureMethod(id.MethodWebsiteToken); err != nil {
		return err
	}
	if err := req.EnsurePending(); err != nil {
		return err
	}
	if req.Website.Token == "" {
		return dErrors.New(dErrors.CodeBadRequest, "no website token has been issued")
	}
	if req.Website.OwnershipConfirmed {
		return nil
	}

	page, fetchErr := v.fetcher.Fetch(ctx, req.Website.URL)
	var result error
	switch {
	case fetchErr != nil:
		result = dErrors.Wrap(fetchErr, dErrors.CodeFetchFailed, "could not fetch website")
	default:
		content, found := FindMetaContent(page, v.metaName)
		switch {
		case !found:
			result = dErrors.New(dErrors.CodeTokenNotFound, "verification meta tag not found")
		case content != req.Website.Token:
			result = dErrors.New(dErrors.CodeTokenMismatch, "verification meta tag does not match the issued token")
		}
	}

	now := requestcontext.Now(ctx)
	checked := now
	req.Website.CheckedAt = &checked
	req.AttemptCount++
	req.UpdatedAt = now
	if result == nil {
		req.Website.OwnershipConfirmed = true
		req.SubmittedAt = &checked
	}
	if err := v.store.Update(ctx, req); err != nil {
		return storeError(err)
	}

	if result != nil {
		v.logAudit(ctx, "website_check_failed",
			"verification_request_id", req.ID,
			"official_id", req.OfficialID,
			"reason", dErrors.CodeOf(result),
		)
		return result
	}
	if err := v.projector.Apply(ctx, req.OfficialID, officialmodels.StatusPending, req.Method); err != nil {
		return err
	}
	v.logAudit(ctx, "website_ownership_confirmed",
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"host", hostOf(req.Website.URL),
	)
	return nil
}

// FindMetaContent scans the document head for <meta name=name content=...>.
// Tags after the head are ignored.
func FindMetaContent(page []byte, name string) (string, bool) {
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return "", false
		case html.EndTagToken:
			tn, _ := z.TagName()
			if atom.Lookup(tn) == atom.Head {
				return "", false
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			switch atom.Lookup(tn) {
			case atom.Body:
				return "", false
			case atom.Meta:
				if !hasAttr {
					continue
				}
				var metaName, content string
				var hasContent bool
				for {
					key, val, more := z.TagAttr()
					switch string(key) {
					case "name":
						metaName = string(val)
					case "content":
						content, hasContent = string(val), true
					}
					if !more {
						break
					}
				}
				if strings.EqualFold(strings.TrimSpace(metaName), name) && hasContent {
					return strings.TrimSpace(content), true
				}
			}
		}
	}
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Hostname()
	}
	return ""
}

func storeError(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification request not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeConflict, "verification request is no longer pending")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save verification request")
	}
}

func (v *Verifier) logAudit(ctx context.Context, event string, attributes ...any) {
	if v.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	v.logger.InfoContext(ctx, event, args...)
}
