// Package templates holds the per-bank extraction rules and resolves which
// one applies to an incoming notification.
package templates

import (
	"context"
	"net/mail"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
)

type Field string

const (
	FieldAmount        Field = "amount"
	FieldSenderName    Field = "sender_name"
	FieldAccountNumber Field = "account_number"
	FieldValueDate     Field = "value_date"
	FieldNarration     Field = "narration"
)

// Fields lists every extractable field in extraction order.
var Fields = []Field{FieldAmount, FieldAccountNumber, FieldSenderName, FieldValueDate, FieldNarration}

// Rule locates one field. Pattern's first capture group is the value, or the
// whole match when it has none. Label names an HTML table cell or text line.
type Rule struct {
	Pattern *regexp.Regexp
	Label   string
}

func (r Rule) Empty() bool {
	return r.Pattern == nil && r.Label == ""
}

// Template is a compiled BankTemplate.
type Template struct {
	Model  models.BankTemplate
	Rules  map[Field]Rule
	email  string
	domain string
}

func (t *Template) Name() string {
	return t.Model.BankName
}

// Rule returns the rule for f; the zero Rule when the template has none.
func (t *Template) Rule(f Field) Rule {
	return t.Rules[f]
}

// Compile validates a template and compiles its patterns once.
func Compile(m models.BankTemplate) (*Template, error) {
	email := strings.ToLower(strings.TrimSpace(m.SenderEmail))
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(m.SenderDomain)), "@")
	if email == "" && domain == "" {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidTemplate,
			"template %q has no sender email or domain", m.BankName)
	}

	raw := map[Field][2]string{
		FieldAmount:        {m.AmountPattern, m.AmountFieldLabel},
		FieldSenderName:    {m.SenderNamePattern, m.SenderNameFieldLabel},
		FieldAccountNumber: {m.AccountNumberPattern, m.AccountNumberFieldLabel},
		FieldValueDate:     {m.ValueDatePattern, m.ValueDateFieldLabel},
		FieldNarration:     {m.NarrationPattern, m.NarrationFieldLabel},
	}
	t := &Template{Model: m, Rules: make(map[Field]Rule, len(raw)), email: email, domain: domain}
	for field, spec := range raw {
		rule := Rule{Label: strings.TrimSpace(spec[1])}
		if spec[0] != "" {
			re, err := regexp.Compile(spec[0])
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.CategoryValidation, apperrors.CodeInvalidTemplate,
					"template "+m.BankName+": bad "+string(field)+" pattern")
			}
			rule.Pattern = re
		}
		if !rule.Empty() {
			t.Rules[field] = rule
		}
	}
	if t.Rule(FieldAmount).Empty() {
		return nil, apperrors.Newf(apperrors.CategoryValidation, apperrors.CodeInvalidTemplate,
			"template %q has no amount rule", m.BankName)
	}
	return t, nil
}

// Registry resolves sender addresses to templates. It is immutable once built.
type Registry struct {
	templates []*Template
}

// NewRegistry orders templates by priority, highest first.
func NewRegistry(templates []*Template) *Registry {
	sorted := make([]*Template, len(templates))
	copy(sorted, templates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Model.Priority != sorted[j].Model.Priority {
			return sorted[i].Model.Priority > sorted[j].Model.Priority
		}
		return sorted[i].Model.BankName < sorted[j].Model.BankName
	})
	return &Registry{templates: sorted}
}

func (r *Registry) Len() int {
	return len(r.templates)
}

// Templates returns the templates in lookup order.
func (r *Registry) Templates() []*Template {
	out := make([]*Template, len(r.templates))
	copy(out, r.templates)
	return out
}

// Lookup finds the template for a From header. An exact sender address wins
// over a domain rule regardless of priority.
func (r *Registry) Lookup(from string) (*Template, bool) {
	addr := NormalizeAddress(from)
	if addr == "" {
		return nil, false
	}
	for _, t := range r.templates {
		if t.email != "" && t.email == addr {
			return t, true
		}
	}
	at := strings.LastIndexByte(addr, '@')
	if at < 0 {
		return nil, false
	}
	host := addr[at+1:]
	for _, t := range r.templates {
		if t.domain == "" {
			continue
		}
		if host == t.domain || strings.HasSuffix(host, "."+t.domain) {
			return t, true
		}
	}
	return nil, false
}

// NormalizeAddress reduces a From header such as `"GTBank" <Alerts@GTBank.com>`
// to a lower-case bare address.
func NormalizeAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if a, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(a.Address)
	}
	if i := strings.LastIndexByte(from, '<'); i >= 0 {
		from = strings.TrimSuffix(from[i+1:], ">")
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// Source supplies stored templates.
type Source interface {
	ListActive(ctx context.Context) ([]models.BankTemplate, error)
}

// Load builds a registry from the active stored templates. Templates that do
// not compile are logged and skipped.
func Load(ctx context.Context, src Source, log logger.Logger) (*Registry, error) {
	stored, err := src.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	return Build(stored, log), nil
}

// Build compiles the given templates, skipping inactive or invalid ones.
func Build(stored []models.BankTemplate, log logger.Logger) *Registry {
	compiled := make([]*Template, 0, len(stored))
	for _, m := range stored {
		if !m.IsActive {
			continue
		}
		t, err := Compile(m)
		if err != nil {
			log.WithError(err).WithField("bank", m.BankName).Warn("skipping bank template")
			continue
		}
		compiled = append(compiled, t)
	}
	return NewRegistry(compiled)
}

type seedFile struct {
	Templates []models.BankTemplate `yaml:"templates"`
}

// LoadYAML reads seed templates from a YAML document with a top-level
// `templates` list.
func LoadYAML(path string) ([]models.BankTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidConfig, "read template file")
	}
	return ParseYAML(data)
}

func ParseYAML(data []byte) ([]models.BankTemplate, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryConfiguration, apperrors.CodeInvalidTemplate, "parse template file")
	}
	return f.Templates, nil
}
