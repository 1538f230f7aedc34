// Package extraction turns bank notification emails into normalized
// transactions using the per-bank templates.
package extraction

import (
	"encoding/json"
	"io"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"payment-reconciliation-engine/internal/apperrors"
	"payment-reconciliation-engine/internal/logger"
	"payment-reconciliation-engine/internal/models"
	"payment-reconciliation-engine/internal/services/templates"
)

// RawEmail is a bank notification as delivered by the mail fetcher.
type RawEmail struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from" binding:"required"`
	Subject    string    `json:"subject"`
	HTMLBody   string    `json:"html_body"`
	TextBody   string    `json:"text_body"`
	ReceivedAt time.Time `json:"received_at"`
}

// Source tells where a field value came from.
type Source string

const (
	SourceHTMLPattern Source = "html_pattern"
	SourceHTMLTable   Source = "html_table"
	SourceTextPattern Source = "text_pattern"
	SourceTextLabel   Source = "text_label"
	SourceDefault     Source = "default"
)

// Method records how each field was obtained.
type Method struct {
	Template string                     `json:"template"`
	Fields   map[templates.Field]Source `json:"fields"`
}

// String is the short form kept on match attempts, e.g. "GTBank/html_table".
func (m Method) String() string {
	return m.Template + "/" + string(m.Fields[templates.FieldAmount])
}

func (m Method) JSON() datatypes.JSON {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Result is one extracted bank event, not yet deduplicated or stored.
type Result struct {
	BankName      string
	TemplateID    *uuid.UUID
	AccountNumber string
	Amount        decimal.Decimal
	SenderName    string
	Narration     string
	ValueDate     time.Time
	// OccurredAt is the value time when the notification carried one,
	// otherwise the time the email was received.
	OccurredAt  time.Time
	HasTime     bool
	Method      Method
	HTMLSnippet string
	TextSnippet string
}

// Transaction builds the storable record for r.
func (r *Result) Transaction(fingerprint string, emailID *uuid.UUID) *models.ExtractedTransaction {
	return &models.ExtractedTransaction{
		ID:               uuid.New(),
		InboundEmailID:   emailID,
		TemplateID:       r.TemplateID,
		AccountNumber:    r.AccountNumber,
		Amount:           r.Amount,
		SenderName:       r.SenderName,
		Narration:        r.Narration,
		BankName:         r.BankName,
		ValueDate:        r.ValueDate,
		OccurredAt:       r.OccurredAt,
		Fingerprint:      fingerprint,
		ExtractionMethod: r.Method.JSON(),
		HTMLSnippet:      r.HTMLSnippet,
		TextSnippet:      r.TextSnippet,
		MatchStatus:      models.TransactionMatchPending,
	}
}

// Resolver finds the template for a sender.
type Resolver interface {
	Lookup(from string) (*templates.Template, bool)
}

type Extractor struct {
	resolver Resolver
	log      logger.Logger
}

func NewExtractor(resolver Resolver, log logger.Logger) *Extractor {
	return &Extractor{resolver: resolver, log: log.WithComponent("extractor")}
}

// Extract applies the sender's template to the email. It fails when the
// sender has no template or no positive amount can be found; the other
// fields are best-effort.
func (e *Extractor) Extract(email RawEmail) (*Result, error) {
	tmpl, ok := e.resolver.Lookup(email.From)
	if !ok {
		return nil, apperrors.Newf(apperrors.CategoryExtraction, apperrors.CodeUnknownSender,
			"no template for sender %q", templates.NormalizeAddress(email.From)).
			WithContext("from", email.From)
	}
	received := email.ReceivedAt
	if received.IsZero() {
		received = time.Now().UTC()
	}

	b := newBodies(email)
	res := &Result{
		BankName: tmpl.Name(),
		Method:   Method{Template: tmpl.Name(), Fields: make(map[templates.Field]Source)},
	}
	if tmpl.Model.ID != uuid.Nil {
		id := tmpl.Model.ID
		res.TemplateID = &id
	}

	rawAmount, src := b.field(tmpl.Rule(templates.FieldAmount))
	if rawAmount == "" {
		return nil, apperrors.Newf(apperrors.CategoryExtraction, apperrors.CodeAmountNotFound,
			"%s notification has no amount", tmpl.Name())
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return nil, err
	}
	res.Amount = amount
	res.Method.Fields[templates.FieldAmount] = src

	if v, src := b.field(tmpl.Rule(templates.FieldAccountNumber)); v != "" {
		res.AccountNumber = normalizeAccountNumber(v)
		res.Method.Fields[templates.FieldAccountNumber] = src
	}
	if v, src := b.field(tmpl.Rule(templates.FieldSenderName)); v != "" {
		if name := validSenderName(v); name != "" {
			res.SenderName = name
			res.Method.Fields[templates.FieldSenderName] = src
		}
	}
	if v, src := b.field(tmpl.Rule(templates.FieldNarration)); v != "" {
		res.Narration = truncate(v, 500)
		res.Method.Fields[templates.FieldNarration] = src
	}

	res.ValueDate = dateOnly(received)
	res.OccurredAt = received
	res.Method.Fields[templates.FieldValueDate] = SourceDefault
	if v, src := b.field(tmpl.Rule(templates.FieldValueDate)); v != "" {
		if t, hasTime, ok := ParseValueDate(v, received.Location()); ok {
			res.ValueDate = dateOnly(t)
			res.Method.Fields[templates.FieldValueDate] = src
			if hasTime {
				res.OccurredAt = t
				res.HasTime = true
			}
		} else {
			e.log.WithFields(logger.Fields{"bank": tmpl.Name(), "value": v}).Debug("unparseable value date")
		}
	}

	needle := amountRe.FindString(rawAmount)
	res.HTMLSnippet = snippet(email.HTMLBody, needle)
	res.TextSnippet = snippet(b.text, needle)
	return res, nil
}

// bodies holds the two views of a notification.
type bodies struct {
	rawHTML string
	doc     *document
	text    string
}

func newBodies(email RawEmail) *bodies {
	b := &bodies{rawHTML: email.HTMLBody, doc: parseHTML(email.HTMLBody)}
	b.text = decodeText(email.TextBody)
	if strings.TrimSpace(b.text) == "" && b.doc != nil {
		b.text = b.doc.text
	}
	return b
}

// field runs the interpreter for one rule: HTML first, then text.
func (b *bodies) field(rule templates.Rule) (string, Source) {
	if rule.Empty() {
		return "", ""
	}
	if rule.Pattern != nil && b.rawHTML != "" {
		if v := applyPattern(rule.Pattern, b.rawHTML); v != "" {
			return v, SourceHTMLPattern
		}
	}
	if rule.Label != "" {
		if v := b.doc.lookupLabel(rule.Label); v != "" {
			return v, SourceHTMLTable
		}
	}
	if rule.Pattern != nil && b.text != "" {
		if v := applyPattern(rule.Pattern, b.text); v != "" {
			return v, SourceTextPattern
		}
	}
	if rule.Label != "" && b.text != "" {
		if v := labelLine(b.text, rule.Label); v != "" {
			return v, SourceTextLabel
		}
	}
	return "", ""
}

// applyPattern returns the first non-empty capture group, or the whole match
// when the pattern has no groups.
func applyPattern(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if len(m) == 1 {
		return cleanValue(m[0])
	}
	for _, g := range m[1:] {
		if v := cleanValue(g); v != "" {
			return v
		}
	}
	return ""
}

var qpMarker = regexp.MustCompile(`=(?:\r?\n|[0-9A-F]{2})`)

// decodeText undoes quoted-printable transfer encoding when the body still carries it.
func decodeText(s string) string {
	if !qpMarker.MatchString(s) {
		return s
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	if err != nil {
		return s
	}
	return string(decoded)
}

var (
	amountRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	debitRe  = regexp.MustCompile(`(?i)(?:^|[^a-z])(?:dr|debit)(?:$|[^a-z])`)
)

// ParseAmount reads a credit value such as "NGN 10,000.00" or "₦9,800".
// Signed values and amounts marked DR or Debit are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	loc := amountRe.FindStringIndex(raw)
	if loc == nil {
		return decimal.Zero, apperrors.Newf(apperrors.CategoryExtraction, apperrors.CodeInvalidAmount,
			"invalid amount %q", raw)
	}
	if strings.Contains(raw[:loc[0]], "-") || debitRe.MatchString(raw) {
		return decimal.Zero, apperrors.Newf(apperrors.CategoryExtraction, apperrors.CodeInvalidAmount,
			"amount %q is not a credit", raw)
	}
	m := raw[loc[0]:loc[1]]
	d, err := decimal.NewFromString(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return decimal.Zero, apperrors.Wrap(err, apperrors.CategoryExtraction, apperrors.CodeInvalidAmount,
			"invalid amount "+raw)
	}
	if !d.IsPositive() {
		return decimal.Zero, apperrors.Newf(apperrors.CategoryExtraction, apperrors.CodeInvalidAmount,
			"amount must be positive, got %s", d)
	}
	return d.Round(2), nil
}

var accountRe = regexp.MustCompile(`\d{6,20}`)

func normalizeAccountNumber(v string) string {
	compact := strings.NewReplacer(" ", "", "-", "").Replace(v)
	if m := accountRe.FindString(compact); m != "" {
		return m
	}
	return strings.TrimSpace(v)
}

var dateLayouts = []struct {
	layout  string
	hasTime bool
}{
	{time.RFC3339, true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02 15:04", true},
	{"02/01/2006 15:04:05", true},
	{"02/01/2006 03:04:05 PM", true},
	{"02/01/2006 15:04", true},
	{"02-Jan-2006 15:04:05", true},
	{"02-Jan-2006 03:04:05 PM", true},
	{"Jan 2, 2006 3:04 PM", true},
	{"2006-01-02", false},
	{"02/01/2006", false},
	{"02-01-2006", false},
	{"02-Jan-2006", false},
	{"02-Jan-06", false},
	{"2 Jan 2006", false},
	{"2 January 2006", false},
	{"Jan 2, 2006", false},
	{"January 2, 2006", false},
}

// ParseValueDate accepts the date formats Nigerian banks use in alerts.
// hasTime reports whether a time of day was present.
func ParseValueDate(v string, loc *time.Location) (t time.Time, hasTime bool, ok bool) {
	v = strings.Join(strings.Fields(v), " ")
	if loc == nil {
		loc = time.UTC
	}
	for _, l := range dateLayouts {
		if t, err := time.ParseInLocation(l.layout, v, loc); err == nil {
			return t, l.hasTime, true
		}
	}
	return time.Time{}, false, false
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// validSenderName drops values that are clearly not a person or company name.
func validSenderName(v string) string {
	v = strings.TrimSpace(strings.Trim(v, "-.,:"))
	if len(v) < 3 || strings.Contains(v, "@") {
		return ""
	}
	return v
}

func snippet(body, needle string) string {
	if body == "" || needle == "" {
		return ""
	}
	i := strings.Index(body, needle)
	if i < 0 {
		return ""
	}
	start, end := i-120, i+len(needle)+120
	if start < 0 {
		start = 0
	}
	if end > len(body) {
		end = len(body)
	}
	return strings.ToValidUTF8(body[start:end], "")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
