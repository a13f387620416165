// Package emailcode implements the government-email method: a six digit
// one-time code delivered to an address on an allowed government domain.
package emailcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	officialmodels "civic/internal/officials/models"
	"civic/internal/verification/models"
	"civic/internal/verification/ports"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
	"civic/pkg/email"
	"civic/pkg/platform/sentinel"
	"civic/pkg/requestcontext"
)

const (
	codeDigits         = 6
	defaultTTL         = 15 * time.Minute
	defaultMaxAttempts = 10
)

var codeSpace = big.NewInt(1_000_000)

type Store interface {
	Update(ctx context.Context, r *models.Request) error
}

type Projector interface {
	Apply(ctx context.Context, officialID id.OfficialID, outcome officialmodels.VerificationStatus, method id.VerificationMethod) error
}

// CodeSource produces the plaintext code. Production uses crypto/rand.
type CodeSource func() (string, error)

// Issued confirms issuance. It never carries the code.
type Issued struct {
	Target    string
	ExpiresAt time.Time
}

type Issuer struct {
	store       Store
	mailer      ports.Mailer
	projector   Projector
	logger      *slog.Logger
	ttl         time.Duration
	bcryptCost  int
	maxAttempts int
	domains     []string
	codes       CodeSource
}

type Option func(*Issuer)

func WithLogger(logger *slog.Logger) Option {
	return func(i *Issuer) {
		i.logger = logger
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithBcryptCost(cost int) Option {
	return func(i *Issuer) {
		i.bcryptCost = cost
	}
}

// WithMaxAttempts rejects the request once this many codes were submitted
// without success. Zero disables the limit.
func WithMaxAttempts(n int) Option {
	return func(i *Issuer) {
		i.maxAttempts = n
	}
}

// WithAllowedDomains restricts target addresses to these domain suffixes.
func WithAllowedDomains(suffixes []string) Option {
	return func(i *Issuer) {
		i.domains = suffixes
	}
}

func WithCodeSource(src CodeSource) Option {
	return func(i *Issuer) {
		i.codes = src
	}
}

func New(store Store, mailer ports.Mailer, projector Projector, opts ...Option) *Issuer {
	i := &Issuer{
		store:       store,
		mailer:      mailer,
		projector:   projector,
		ttl:         defaultTTL,
		bcryptCost:  bcrypt.DefaultCost,
		maxAttempts: defaultMaxAttempts,
		codes:       RandomCode,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RandomCode returns a uniformly random zero-padded six digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// Issue generates a fresh code for req, replacing any previous one, and hands
// it to the mailer. An empty target reuses the address of the previous code.
// Mailer failures are logged, not returned.
func (i *Issuer) Issue(ctx context.Context, req *models.Request, target string) (Issued, error) {
	if err := req.EnsureMethod(id.MethodGovernmentEmail); err != nil {
		return Issued{}, err
	}
	if err := req.EnsurePending(); err != nil {
		return Issued{}, err
	}
	if strings.TrimSpace(target) == "" {
		target = req.Email.Target
	}
	addr, err := email.Normalize(target)
	if err != nil {
		return Issued{}, err
	}
	if !email.HasAllowedDomain(addr, i.domains) {
		return Issued{}, dErrors.New(dErrors.CodeValidation, "email must be on a government domain")
	}

	code, err := i.codes()
	if err != nil {
		return Issued{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), i.bcryptCost)
	if err != nil {
		return Issued{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash code")
	}

	now := requestcontext.Now(ctx)
	req.Email = &models.EmailChallenge{
		CodeHash:  string(hash),
		Target:    addr,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}
	req.UpdatedAt = now
	if err := i.store.Update(ctx, req); err != nil {
		return Issued{}, storeError(err)
	}

	if err := i.mailer.SendCode(ctx, addr, code); err != nil && i.logger != nil {
		i.logger.WarnContext(ctx, "code delivery failed",
			"verification_request_id", req.ID,
			"domain", email.Domain(addr),
			"error", err,
		)
	}
	i.logAudit(ctx, "code_issued",
		"verification_request_id", req.ID,
		"official_id", req.OfficialID,
		"domain", email.Domain(addr),
		"expires_at", req.Email.ExpiresAt,
	)
	return Issued{Target: addr, ExpiresAt: req.Email.ExpiresAt}, nil
}

// Verify checks submitted against the live code. Expiry is checked before
// the value, so a correct but late code yields CodeExpiredCode. Every
// attempt is counted; a match marks the request verified and projects the
// profile.
func (i *Issuer) Verify(ctx context.Context, req *models.Request, submitted string) error {
	if err := req.EnsureMethod(id.MethodGovernmentEmail); err != nil {
		return err
	}
	if err := req.EnsurePending(); err != nil {
		return err
	}
	if !req.Email.HasLiveCode() {
		return dErrors.New(dErrors.CodeInvalidCode, "no code has been issued for this request")
	}

	now := requestcontext.Now(ctx)
	req.AttemptCount++
	req.UpdatedAt = now

	var result error
	var exhausted bool
	switch {
	case now.After(req.Email.ExpiresAt):
		result = dErrors.New(dErrors.CodeExpiredCode, "code has expired; request a new one")
	case !matches(req.Email.CodeHash, submitted):
		result = dErrors.New(dErrors.CodeInvalidCode, "code does not match")
		if i.maxAttempts > 0 && req.AttemptCount >= i.maxAttempts {
			req.MarkRejected(now, "too many incorrect codes", nil)
			exhausted = true
		}
	default:
		req.Email.CodeHash = ""
		req.MarkVerified(now, nil)
	}

	if err := i.store.Update(ctx, req); err != nil {
		return storeError(err)
	}

	switch {
	case result == nil:
		if err := i.projector.Apply(ctx, req.OfficialID, officialmodels.StatusVerified, req.Method); err != nil {
			return err
		}
		i.logAudit(ctx, "code_verified",
			"verification_request_id", req.ID,
			"official_id", req.OfficialID,
			"attempts", req.AttemptCount,
		)
	case exhausted:
		if err := i.projector.Apply(ctx, req.OfficialID, officialmodels.StatusRejected, req.Method); err != nil {
			return err
		}
		i.logAudit(ctx, "code_attempts_exhausted",
			"verification_request_id", req.ID,
			"official_id", req.OfficialID,
			"attempts", req.AttemptCount,
		)
	default:
		i.logAudit(ctx, "code_rejected",
			"verification_request_id", req.ID,
			"official_id", req.OfficialID,
			"reason", dErrors.CodeOf(result),
			"attempts", req.AttemptCount,
		)
	}
	return result
}

func matches(hash, submitted string) bool {
	submitted = strings.TrimSpace(submitted)
	if len(submitted) != codeDigits {
		return false
	}
	for _, c := range submitted {
		if c < '0' || c > '9' {
			return false
		}
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(submitted)) == nil
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

func (i *Issuer) logAudit(ctx context.Context, event string, attributes ...any) {
	if i.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	i.logger.InfoContext(ctx, event, args...)
}
