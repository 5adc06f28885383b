package export

import (
	"fmt"
	"time"
)

// Service renders signing certificates. The app layer reduces the lineage,
// verifies each signature, and builds the Certificate; this service only
// turns it into a downloadable artifact.
type Service struct {
	now func() time.Time
}

// NewService creates a new export service
func NewService() *Service {
	return &Service{now: time.Now}
}

// Export generates a certificate in the requested format
func (s *Service) Export(cert Certificate, format Format) (*Result, error) {
	if cert.GeneratedAt.IsZero() {
		cert.GeneratedAt = s.now()
	}

	data := TemplateData{
		Title:           cert.Title,
		CorrelationTag:  cert.CorrelationTag,
		ContentID:       cert.ContentID,
		Version:         cert.Version,
		SignersRequired: cert.SignersRequired,
		Complete:        cert.Complete,
		BodyHTML:        SafeHTML(BodyToHTML(cert.BodyText)),
		GeneratedAt:     cert.GeneratedAt,
		Signatures:      cert.Signatures,
		History:         cert.History,
	}

	html, err := RenderCertificateHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, cert.Title)
	case FormatDOCX:
		return exportDOCX(html, cert.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
