package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var certificateTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.UTC().Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/certificate.html")
	if err != nil {
		// Fallback to built-in template if file not found
		certificateTemplate = template.Must(template.New("certificate").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	certificateTemplate = template.Must(template.New("certificate").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for certificate template rendering
type TemplateData struct {
	Title           string
	CorrelationTag  string
	ContentID       string
	Version         int
	SignersRequired int
	Complete        bool
	BodyHTML        template.HTML
	GeneratedAt     time.Time
	Signatures      []CertificateSignature
	History         []CertificateRevision
}

// RenderCertificateHTML renders the certificate template with provided data
func RenderCertificateHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.CorrelationTag}} | revision {{.Version}} | digest {{.ContentID}}</div>
  <div>{{.BodyHTML | safeHTML}}</div>
  <h2>Signatures</h2>
  {{range .Signatures}}<p>{{.SignerID}} at {{formatDate .SignedAt "Jan 2, 2006 15:04 MST"}}</p>{{end}}
</body>
</html>`
