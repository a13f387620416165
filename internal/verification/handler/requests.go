package handler

import (
	"net/url"
	"strings"

	"civic/internal/verification/models"
	id "civic/pkg/domain"
	dErrors "civic/pkg/domain-errors"
)

const maxEvidenceDocuments = 10

// StartRequest is the body for POST /verification/requests.
type StartRequest struct {
	Method string `json:"method"`

	parsed id.VerificationMethod
}

func (r *StartRequest) Normalize() {
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
}

func (r *StartRequest) Validate() error {
	if r.Method == "" {
		return dErrors.New(dErrors.CodeValidation, "method is required")
	}
	m, err := id.ParseVerificationMethod(r.Method)
	if err != nil {
		return err
	}
	r.parsed = m
	return nil
}

// SendCodeRequest is the body for POST /verification/requests/{id}/code.
type SendCodeRequest struct {
	Email string `json:"email"`
}

func (r *SendCodeRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

func (r *SendCodeRequest) Validate() error {
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	if len(r.Email) > 254 {
		return dErrors.New(dErrors.CodeValidation, "email must be at most 254 characters")
	}
	return nil
}

type VerifyCodeRequest struct {
	Code string `json:"code"`
}

func (r *VerifyCodeRequest) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
}

func (r *VerifyCodeRequest) Validate() error {
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	if len(r.Code) > 16 {
		return dErrors.New(dErrors.CodeValidation, "code is too long")
	}
	return nil
}

// DocumentsRequest references evidence already uploaded, with one type per
// URL.
type DocumentsRequest struct {
	URLs  []string `json:"urls"`
	Types []string `json:"types"`
}

func (r *DocumentsRequest) Normalize() {
	for i := range r.URLs {
		r.URLs[i] = strings.TrimSpace(r.URLs[i])
	}
	for i := range r.Types {
		r.Types[i] = strings.ToLower(strings.TrimSpace(r.Types[i]))
	}
}

func (r *DocumentsRequest) Validate() error {
	if len(r.URLs) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one document url is required")
	}
	if len(r.URLs) > maxEvidenceDocuments {
		return dErrors.New(dErrors.CodeValidation, "too many documents")
	}
	if len(r.Types) != len(r.URLs) {
		return dErrors.New(dErrors.CodeValidation, "each document needs a type")
	}
	for _, raw := range r.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return dErrors.New(dErrors.CodeValidation, "document urls must be absolute https urls")
		}
	}
	return nil
}

type WebsiteRequest struct {
	URL string `json:"url"`
}

func (r *WebsiteRequest) Normalize() {
	r.URL = strings.TrimSpace(r.URL)
}

func (r *WebsiteRequest) Validate() error {
	if r.URL == "" {
		return dErrors.New(dErrors.CodeValidation, "url is required")
	}
	if len(r.URL) > 2048 {
		return dErrors.New(dErrors.CodeValidation, "url must be at most 2048 characters")
	}
	return nil
}

// DecisionRequest is the reviewer body for POST /review/requests/{id}/decision.
type DecisionRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`

	parsed models.Outcome
}

func (r *DecisionRequest) Normalize() {
	r.Notes = strings.TrimSpace(r.Notes)
}

func (r *DecisionRequest) Validate() error {
	outcome, err := models.ParseOutcome(r.Outcome)
	if err != nil {
		return err
	}
	if len(r.Notes) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	r.parsed = outcome
	return nil
}
