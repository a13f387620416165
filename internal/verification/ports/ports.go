// Package ports declares the outbound dependencies of the verification
// methods. Adapters live under internal/delivery.
package ports

import (
	"context"
	"io"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Mailer,PageFetcher,ObjectStore

// Mailer delivers a one-time code. Delivery is best effort.
type Mailer interface {
	SendCode(ctx context.Context, to, code string) error
}

// PageFetcher retrieves a page body over HTTPS.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ObjectStore stores evidence and returns its public URL.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}
