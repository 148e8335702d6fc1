// Package archive copies issued certificates to durable object storage.
//
// Each certificate is written as two objects under the target prefix:
//
//	certificates/<id>.json  certificate document, validation hash included
//	certificates/<id>.png   QR code encoding the public validation link
//
// Writes overwrite: the document is immutable, so replaying an archive
// after a failure produces the same bytes.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/roach88/cdv/internal/model"
)

// QRSize is the edge length in pixels of archived QR images.
const QRSize = 256

// Bucket is a flat object namespace.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// Archiver writes certificates to a Bucket. It satisfies engine.Archiver.
type Archiver struct {
	bucket Bucket
}

// New wraps a bucket.
func New(b Bucket) *Archiver {
	return &Archiver{bucket: b}
}

// Archive writes the certificate document and its QR image.
func (a *Archiver) Archive(ctx context.Context, cert model.Certificate) error {
	doc, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return fmt.Errorf("encode certificate %s: %w", cert.ID, err)
	}
	if err := a.bucket.Put(ctx, DocumentKey(cert.ID), doc, "application/json"); err != nil {
		return fmt.Errorf("archive certificate %s: %w", cert.ID, err)
	}

	png, err := QRCode(cert.QRPayload, QRSize)
	if err != nil {
		return fmt.Errorf("render qr for %s: %w", cert.ID, err)
	}
	if err := a.bucket.Put(ctx, QRKey(cert.ID), png, "image/png"); err != nil {
		return fmt.Errorf("archive qr for %s: %w", cert.ID, err)
	}
	return nil
}

// Load reads an archived certificate document back.
func (a *Archiver) Load(ctx context.Context, id string) (model.Certificate, error) {
	var cert model.Certificate
	data, err := a.bucket.Get(ctx, DocumentKey(id))
	if err != nil {
		return cert, fmt.Errorf("load certificate %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &cert); err != nil {
		return cert, fmt.Errorf("decode certificate %s: %w", id, err)
	}
	return cert, nil
}

// Close releases the underlying bucket.
func (a *Archiver) Close() error {
	return a.bucket.Close()
}

// DocumentKey is the object key of a certificate document.
func DocumentKey(id string) string { return path.Join("certificates", id+".json") }

// QRKey is the object key of a certificate QR image.
func QRKey(id string) string { return path.Join("certificates", id+".png") }

// QRCode renders payload as a PNG QR code with medium error correction.
func QRCode(payload string, size int) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("empty qr payload")
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}

// Target is a parsed archive URL.
type Target struct {
	Scheme string // file, s3 or gs
	Bucket string // bucket name, or directory for file
	Prefix string // key prefix, empty or ending in "/"
}

// ParseTarget parses s3://bucket/prefix, gs://bucket/prefix or
// file:///dir. A bare path is treated as a directory.
func ParseTarget(raw string) (Target, error) {
	if raw == "" {
		return Target{}, fmt.Errorf("empty archive url")
	}
	if !strings.Contains(raw, "://") {
		return Target{Scheme: "file", Bucket: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse archive url: %w", err)
	}
	switch u.Scheme {
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = u.Host + dir
		}
		if dir == "" {
			return Target{}, fmt.Errorf("archive url %q has no directory", raw)
		}
		return Target{Scheme: "file", Bucket: dir}, nil
	case "s3", "gs":
		if u.Host == "" {
			return Target{}, fmt.Errorf("archive url %q has no bucket", raw)
		}
		prefix := strings.Trim(u.Path, "/")
		if prefix != "" {
			prefix += "/"
		}
		return Target{Scheme: u.Scheme, Bucket: u.Host, Prefix: prefix}, nil
	default:
		return Target{}, fmt.Errorf("unsupported archive scheme %q (expected file, s3 or gs)", u.Scheme)
	}
}

// Options configures cloud clients.
type Options struct {
	Region   string
	Endpoint string // S3-compatible endpoint
}

// Open parses an archive URL and connects the matching bucket.
func Open(ctx context.Context, raw string, opts Options) (*Archiver, error) {
	t, err := ParseTarget(raw)
	if err != nil {
		return nil, err
	}
	var b Bucket
	switch t.Scheme {
	case "file":
		b, err = NewFileBucket(t.Bucket)
	case "s3":
		b, err = NewS3Bucket(ctx, S3Config{Bucket: t.Bucket, Prefix: t.Prefix, Region: opts.Region, Endpoint: opts.Endpoint})
	case "gs":
		b, err = NewGCSBucket(ctx, GCSConfig{Bucket: t.Bucket, Prefix: t.Prefix})
	}
	if err != nil {
		return nil, err
	}
	return New(b), nil
}
