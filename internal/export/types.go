// Package export renders signing certificates for agreement lineages in
// PDF and DOCX formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	CorrelationTag string
	Format         Format
	IncludeHistory bool
}

// Certificate is the fully resolved view of an agreement that gets
// rendered. The caller reduces the lineage and verifies signatures before
// handing it over; this package only formats.
type Certificate struct {
	CorrelationTag  string
	Title           string
	BodyText        string
	ContentID       string
	Version         int
	SignersRequired int
	Complete        bool
	GeneratedAt     time.Time
	Signatures      []CertificateSignature
	History         []CertificateRevision
}

// CertificateSignature is one verified signature line on the certificate.
type CertificateSignature struct {
	SignerID   string
	SignerName string
	SignedAt   time.Time
	Verified   bool
}

// CertificateRevision is one historical record in the lineage appendix.
type CertificateRevision struct {
	RecordID    string
	AuthorID    string
	PublishedAt time.Time
	ContentID   string
	Signatures  int
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
