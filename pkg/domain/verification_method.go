package domain

import dErrors "civic/pkg/domain-errors"

// VerificationMethod identifies how an official proves they hold an office.
// Invariant: the value must be one of the supported methods.
//
// Usage: construct via ParseVerificationMethod at trust boundaries; direct
// casting bypasses validation.
type VerificationMethod string

const (
	MethodGovernmentEmail VerificationMethod = "government_email"
	MethodDocumentUpload  VerificationMethod = "document_upload"
	MethodWebsiteToken    VerificationMethod = "website_token"
)

var validVerificationMethods = map[VerificationMethod]bool{
	MethodGovernmentEmail: true,
	MethodDocumentUpload:  true,
	MethodWebsiteToken:    true,
}

// ParseVerificationMethod constructs a VerificationMethod from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseVerificationMethod(s string) (VerificationMethod, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "method cannot be empty")
	}
	m := VerificationMethod(s)
	if !m.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid verification method")
	}
	return m, nil
}

func (m VerificationMethod) IsValid() bool {
	return validVerificationMethods[m]
}

func (m VerificationMethod) String() string {
	return string(m)
}
