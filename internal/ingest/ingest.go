// Package ingest parses prospect seed files (xlsx workbooks, CSV exports)
// into records ready for bulk upsert. Record ids are derived from the tenant
// and email so re-importing the same file updates rather than duplicates.
package ingest

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-sync/internal/model"
)

// headerAliases maps common export column names to internal field names.
// Unrecognized columns are kept under their snake_cased name so extra
// spreadsheet columns survive the import.
var headerAliases = map[string]string{
	"email":         "email",
	"email address": "email",
	"e-mail":        "email",
	"first name":    "first_name",
	"firstname":     "first_name",
	"first_name":    "first_name",
	"last name":     "last_name",
	"lastname":      "last_name",
	"last_name":     "last_name",
	"company":       "company",
	"company name":  "company",
	"organization":  "company",
	"account":       "company",
	"domain":        "domain",
	"website":       "domain",
	"title":         "title",
	"job title":     "title",
	"role":          "title",
	"phone":         "phone",
	"phone number":  "phone",
	"linkedin":      "linkedin_url",
	"linkedin url":  "linkedin_url",
	"linkedin_url":  "linkedin_url",
}

// NormalizeHeader maps raw column names to internal field names.
func NormalizeHeader(cells []string) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		key := strings.ToLower(strings.TrimSpace(cell))
		if mapped, ok := headerAliases[key]; ok {
			out[i] = mapped
			continue
		}
		out[i] = strings.ReplaceAll(key, " ", "_")
	}
	return out
}

// RecordsFromRows converts parsed rows into contact records. Rows without an
// email are skipped: email is the dedupe key for imported prospects. Within
// one file, later rows win over earlier rows with the same email.
func RecordsFromRows(tenantID string, header []string, rows [][]string) ([]model.Record, int, error) {
	fields := NormalizeHeader(header)

	emailIdx := -1
	for i, f := range fields {
		if f == "email" {
			emailIdx = i
			break
		}
	}
	if emailIdx == -1 {
		return nil, 0, eris.Errorf("ingest: no email column in header %v", header)
	}

	byEmail := make(map[string]int)
	var records []model.Record
	skipped := 0
	for _, row := range rows {
		if emailIdx >= len(row) {
			skipped++
			continue
		}
		email := strings.ToLower(strings.TrimSpace(row[emailIdx]))
		if email == "" {
			skipped++
			continue
		}

		rec := model.Record{
			ID:       RecordID(tenantID, email),
			TenantID: tenantID,
			Type:     model.EntityContact,
			Fields:   model.RawFields{},
		}
		for i, f := range fields {
			if i >= len(row) {
				break
			}
			val := strings.TrimSpace(row[i])
			if val == "" {
				continue
			}
			if f == "email" {
				val = email
			}
			rec.Fields[f] = val
		}

		if prev, ok := byEmail[email]; ok {
			records[prev] = rec
			continue
		}
		byEmail[email] = len(records)
		records = append(records, rec)
	}

	return records, skipped, nil
}

// RecordID derives a stable record id from tenant and email.
func RecordID(tenantID, email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("prospect:"+tenantID+":"+email)).String()
}
