package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
)

func tmpl(name, email, domain string, priority int) models.BankTemplate {
	return models.BankTemplate{
		BankName:         name,
		SenderEmail:      email,
		SenderDomain:     domain,
		AmountFieldLabel: "Amount",
		Priority:         priority,
		IsActive:         true,
	}
}

func mustCompile(t *testing.T, m models.BankTemplate) *Template {
	t.Helper()
	c, err := Compile(m)
	require.NoError(t, err)
	return c
}

func TestCompileRejectsInvalidTemplates(t *testing.T) {
	_, err := Compile(tmpl("NoSender", "", "", 1))
	assert.Equal(t, apperrors.CodeInvalidTemplate, apperrors.CodeOf(err))

	bad := tmpl("BadRegex", "", "bank.com", 1)
	bad.NarrationPattern = "([a-z"
	_, err = Compile(bad)
	assert.Equal(t, apperrors.CodeInvalidTemplate, apperrors.CodeOf(err))

	noAmount := tmpl("NoAmount", "", "bank.com", 1)
	noAmount.AmountFieldLabel = ""
	_, err = Compile(noAmount)
	assert.Equal(t, apperrors.CodeInvalidTemplate, apperrors.CodeOf(err))
}

func TestLookupPrefersExactEmailOverDomain(t *testing.T) {
	domain := mustCompile(t, tmpl("Generic", "", "gtbank.com", 500))
	exact := mustCompile(t, tmpl("GTBank", "gens@gtbank.com", "", 1))
	reg := NewRegistry([]*Template{domain, exact})

	got, ok := reg.Lookup(`"GTBank Alerts" <GeNS@GTBank.com>`)
	require.True(t, ok)
	assert.Equal(t, "GTBank", got.Name())

	got, ok = reg.Lookup("noreply@gtbank.com")
	require.True(t, ok)
	assert.Equal(t, "Generic", got.Name())
}

func TestLookupDomainIsAnchoredAtLabelBoundary(t *testing.T) {
	reg := NewRegistry([]*Template{mustCompile(t, tmpl("GTBank", "", "@gtbank.com", 1))})

	_, ok := reg.Lookup("alerts@mail.gtbank.com")
	assert.True(t, ok)

	_, ok = reg.Lookup("alerts@notgtbank.com")
	assert.False(t, ok)

	_, ok = reg.Lookup("gtbank.com@evil.example")
	assert.False(t, ok)

	_, ok = reg.Lookup("")
	assert.False(t, ok)
}

func TestRegistryOrdersByPriority(t *testing.T) {
	low := mustCompile(t, tmpl("Low", "", "bank.com", 1))
	high := mustCompile(t, tmpl("High", "", "bank.com", 10))
	reg := NewRegistry([]*Template{low, high})

	got, ok := reg.Lookup("x@bank.com")
	require.True(t, ok)
	assert.Equal(t, "High", got.Name())
	assert.Equal(t, 2, reg.Len())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "alerts@bank.com", NormalizeAddress("Bank <Alerts@Bank.com>"))
	assert.Equal(t, "alerts@bank.com", NormalizeAddress("  ALERTS@bank.com "))
	assert.Equal(t, "alerts@bank.com", NormalizeAddress("Bank, Plc <alerts@bank.com>"))
	assert.Equal(t, "", NormalizeAddress(" "))
}

type stubSource []models.BankTemplate

func (s stubSource) ListActive(context.Context) ([]models.BankTemplate, error) {
	return s, nil
}

func TestLoadSkipsInvalidAndInactive(t *testing.T) {
	inactive := tmpl("Off", "", "off.com", 1)
	inactive.IsActive = false
	src := stubSource{
		tmpl("GTBank", "", "gtbank.com", 1),
		tmpl("Broken", "", "", 1),
		inactive,
	}
	reg, err := Load(context.Background(), src, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	doc := `templates:
  - bank_name: GTBank
    sender_email: gens@gtbank.com
    priority: 100
    is_active: true
    amount_field_label: Amount
    sender_name_pattern: 'from\s+(\w+)'
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	got, err := LoadYAML(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "GTBank", got[0].BankName)
	assert.Equal(t, 100, got[0].Priority)
	assert.Equal(t, `from\s+(\w+)`, got[0].SenderNamePattern)

	_, err = LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConfiguration))
}

func TestSeedTemplatesCompile(t *testing.T) {
	seeds, err := LoadYAML(filepath.Join("..", "..", "..", "configs", "templates.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, seeds)
	for _, s := range seeds {
		_, err := Compile(s)
		assert.NoError(t, err, s.BankName)
	}
}

func TestHolderSwapsRegistry(t *testing.T) {
	h := NewHolder(nil)
	_, ok := h.Lookup("alerts@gtbank.com")
	assert.False(t, ok)

	h.Store(NewRegistry([]*Template{mustCompile(t, tmpl("GTBank", "", "gtbank.com", 1))}))
	got, ok := h.Lookup("alerts@gtbank.com")
	require.True(t, ok)
	assert.Equal(t, "GTBank", got.Name())
	assert.Equal(t, 1, h.Registry().Len())
}
