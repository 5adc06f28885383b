// Package email sends signer notifications via SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

// Config holds SMTP configuration
type Config struct {
	Host      string
	Port      string
	Username  string
	Password  string
	From      string
	FromName  string
	EnableTLS bool
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	// Simple multipart message
	boundary := "boundary-accord"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	// Plain text part (fallback)
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	// HTML part
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// SignatureRequestData holds data for the signature request template
type SignatureRequestData struct {
	AppName      string
	SignerName   string
	Title        string
	AgreementURL string
}

// CompletionData holds data for the agreement-complete template
type CompletionData struct {
	AppName        string
	SignerName     string
	Title          string
	CertificateURL string
}

// ForkAlertData holds data for the fork alert template
type ForkAlertData struct {
	AppName      string
	SignerName   string
	Title        string
	ForkCount    int
	AgreementURL string
}

// SendSignatureRequestEmail notifies a party that an agreement awaits
// their signature.
func (s *Service) SendSignatureRequestEmail(to, signerName, title, agreementURL string) error {
	data := SignatureRequestData{
		AppName:      "Accord",
		SignerName:   signerName,
		Title:        title,
		AgreementURL: agreementURL,
	}

	subject := fmt.Sprintf("Signature requested: %s", title)
	html, err := renderTemplate(signatureRequestTemplate, data)
	if err != nil {
		return fmt.Errorf("render signature request template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendCompletionEmail notifies a party that an agreement has collected all
// required signatures.
func (s *Service) SendCompletionEmail(to, signerName, title, certificateURL string) error {
	data := CompletionData{
		AppName:        "Accord",
		SignerName:     signerName,
		Title:          title,
		CertificateURL: certificateURL,
	}

	subject := fmt.Sprintf("Fully signed: %s", title)
	html, err := renderTemplate(completionTemplate, data)
	if err != nil {
		return fmt.Errorf("render completion template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// SendForkAlertEmail warns a party that an agreement has diverged and
// needs a merge before further signatures.
func (s *Service) SendForkAlertEmail(to, signerName, title string, forkCount int, agreementURL string) error {
	data := ForkAlertData{
		AppName:      "Accord",
		SignerName:   signerName,
		Title:        title,
		ForkCount:    forkCount,
		AgreementURL: agreementURL,
	}

	subject := fmt.Sprintf("Action needed: %s has diverged", title)
	html, err := renderTemplate(forkAlertTemplate, data)
	if err != nil {
		return fmt.Errorf("render fork alert template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const signatureRequestTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Signature requested</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.SignerName}},</h2>

    <p>The agreement <strong>{{.Title}}</strong> is waiting for your signature.</p>

    <p>
        <a href="{{.AgreementURL}}" class="button">Review and Sign</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.AgreementURL}}</p>

    <div class="footer">
        <p>You are listed as a required signer on this agreement. If you believe this is a mistake, contact the party who created it.</p>
    </div>
</body>
</html>`

const completionTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Agreement fully signed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #137333; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #137333; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #137333; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.SignerName}},</h2>

    <p><strong>{{.Title}}</strong> has collected all required signatures and is now complete.</p>

    <p>
        <a href="{{.CertificateURL}}" class="button">Download Certificate</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.CertificateURL}}</p>

    <div class="footer">
        <p>The certificate link is time-limited. You can generate a fresh one from the agreement page at any time.</p>
    </div>
</body>
</html>`

const forkAlertTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Agreement diverged</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #b06000; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #b06000; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Hi {{.SignerName}},</h2>

    <p><strong>{{.Title}}</strong> now has {{.ForkCount}} concurrent branches with different signature sets.</p>

    <div class="warning">
        <strong>Important:</strong> New signatures are blocked until the branches are merged.
    </div>

    <p>
        <a href="{{.AgreementURL}}" class="button">Review Branches</a>
    </p>

    <div class="footer">
        <p>Merging keeps every signature: for each signer, the most recent signature wins.</p>
    </div>
</body>
</html>`
