package invoker

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
)

// TemplateData is the per-request context a body template renders against.
type TemplateData struct {
	VU        int
	Iteration int64
}

// BodyTemplate renders a request body per iteration. Bodies without "{{" are
// returned as-is without touching text/template.
type BodyTemplate struct {
	static []byte
	tmpl   *template.Template
}

var templateFuncs = template.FuncMap{
	"uuid": func() string { return uuid.New().String() },
	"timestamp": func() int64 {
		return time.Now().UnixMilli()
	},
}

// preprocess converts the short tokens to field access.
func preprocess(text string) string {
	text = strings.ReplaceAll(text, "{{vu}}", "{{.VU}}")
	text = strings.ReplaceAll(text, "{{iteration}}", "{{.Iteration}}")
	return text
}

// ParseBody compiles a body template. Supported tokens are {{uuid}}, {{vu}},
// {{iteration}} and {{timestamp}}.
func ParseBody(body string) (*BodyTemplate, error) {
	if !strings.Contains(body, "{{") {
		return &BodyTemplate{static: []byte(body)}, nil
	}

	tmpl, err := template.New("body").Funcs(templateFuncs).Option("missingkey=error").Parse(preprocess(body))
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}
	return &BodyTemplate{tmpl: tmpl}, nil
}

// Render produces the body for one request. Static bodies share one backing
// slice, which Invoke only reads.
func (b *BodyTemplate) Render(data TemplateData) ([]byte, error) {
	if b.tmpl == nil {
		return b.static, nil
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	return buf.Bytes(), nil
}
