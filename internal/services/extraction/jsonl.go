package extraction

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"payment-reconciliation-engine/internal/apperrors"
)

const maxLineSize = 4 << 20

// ReadJSONL decodes one RawEmail per non-blank line.
func ReadJSONL(r io.Reader) ([]RawEmail, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var emails []RawEmail
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e RawEmail
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "line %d: %v", line, err)
		}
		if strings.TrimSpace(e.From) == "" {
			return nil, apperrors.Validation(apperrors.CodeInvalidInput, "line %d: from is required", line)
		}
		emails = append(emails, e)
	}
	if err := sc.Err(); err != nil {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "read emails: %v", err)
	}
	return emails, nil
}
