package clients

import (
	"encoding/csv"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/logger"
)

// ImportResult summarizes a CSV import run
type ImportResult struct {
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// RowError describes why a single CSV row was rejected. Line numbers are
// 1-based and count the header row.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Importer reads client rows from CSV and inserts the ones that are new
type Importer struct {
	store *Store
	log   *zap.SugaredLogger
}

// NewImporter creates a CSV importer backed by the given store
func NewImporter(store *Store) *Importer {
	return &Importer{
		store: store,
		log:   logger.ComponentLogger("clients.import"),
	}
}

// Recognized CSV headers, matched case-insensitively
var headerAliases = map[string]string{
	"name":          "name",
	"client":        "name",
	"client name":   "name",
	"email":         "email",
	"e-mail":        "email",
	"email address": "email",
	"phone":         "phone",
	"phone number":  "phone",
	"telephone":     "phone",
	"address":       "address",
	"street":        "address",
	"notes":         "notes",
	"note":          "notes",
}

// ImportCSV parses r and inserts one client per usable row. Rows that
// duplicate an existing contact, or an earlier row in the same file, are
// counted as skipped. Malformed rows are reported per line and do not
// stop the import.
func (im *Importer) ImportCSV(tenantID string, r io.Reader) (*ImportResult, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Tolerate ragged rows; missing cells read as empty
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read CSV header")
	}

	columns := mapHeader(header)
	if _, ok := columns["name"]; !ok {
		return nil, errors.NewInvalidRequestError("CSV import requires a name column, got headers: %s", strings.Join(header, ", "))
	}

	seen, err := im.store.ExistingContactKeys(tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load existing contacts")
	}

	result := &ImportResult{}
	line := 1 // header consumed

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}

		client := rowToClient(tenantID, record, columns)
		if client.Name == "" {
			result.Errors = append(result.Errors, RowError{Line: line, Message: "missing name"})
			continue
		}

		if key := duplicateKey(client, seen); key != "" {
			im.log.Debugw("Skipping duplicate contact",
				"line", line,
				"key", key)
			result.Skipped++
			continue
		}

		if err := im.store.CreateClient(client); err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}

		rememberKeys(client, seen)
		result.Imported++
	}

	im.log.Infow("CSV import finished",
		"tenant_id", tenantID,
		"imported", result.Imported,
		"skipped", result.Skipped,
		"errors", len(result.Errors))

	return result, nil
}

// mapHeader resolves header cells to canonical field names by position
func mapHeader(header []string) map[string]int {
	columns := make(map[string]int)
	for i, cell := range header {
		name := strings.ToLower(strings.TrimSpace(cell))
		if field, ok := headerAliases[name]; ok {
			if _, taken := columns[field]; !taken {
				columns[field] = i
			}
		}
	}
	return columns
}

func rowToClient(tenantID string, record []string, columns map[string]int) *Client {
	cell := func(field string) string {
		idx, ok := columns[field]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	return &Client{
		TenantID: tenantID,
		Name:     cell("name"),
		Email:    cell("email"),
		Phone:    cell("phone"),
		Address:  cell("address"),
		Notes:    cell("notes"),
	}
}

// duplicateKey returns the matching contact key if the client collides
// with one already seen, or "" when the client is new. A row with neither
// email nor phone can never be deduplicated and is treated as new.
func duplicateKey(c *Client, seen map[string]bool) string {
	if k := emailKey(c.Email); k != "" && seen[k] {
		return k
	}
	if k := phoneKey(c.Phone); k != "" && seen[k] {
		return k
	}
	return ""
}

func rememberKeys(c *Client, seen map[string]bool) {
	if k := emailKey(c.Email); k != "" {
		seen[k] = true
	}
	if k := phoneKey(c.Phone); k != "" {
		seen[k] = true
	}
}

// emailKey normalizes an email for comparison: lowercased and trimmed
func emailKey(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return "email:" + email
}

// phoneKey normalizes a phone number to bare digits, so "(555) 201-7788"
// and "555.201.7788" collide
func phoneKey(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	return "phone:" + digits.String()
}
