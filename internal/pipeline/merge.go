package pipeline

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/prospect-sync/internal/model"
)

// publicEmailProviders are consumer mail domains that say nothing about the
// prospect's employer. Company-level lookups are skipped for these to avoid
// enriching the wrong company.
var publicEmailProviders = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"outlook.com": true,
	"hotmail.com": true,
	"icloud.com":  true,
}

// DeriveDomain extracts the company domain from an email address. Returns ""
// for malformed addresses and for public mail providers.
func DeriveDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if publicEmailProviders[domain] {
		return ""
	}
	return domain
}

// IsPublicEmailDomain reports whether the email belongs to a consumer mail
// provider.
func IsPublicEmailDomain(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	return publicEmailProviders[strings.ToLower(strings.TrimSpace(email[at+1:]))]
}

var titleCaser = cases.Title(language.English)

// normalizeCompanyName canonicalizes a company display name so the same
// company merged from two sources compares equal.
func normalizeCompanyName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if name == strings.ToLower(name) || name == strings.ToUpper(name) {
		return titleCaser.String(strings.ToLower(name))
	}
	return name
}

// Accumulator merges connector output into one SignalRecord under the
// waterfall policy: first writer wins per scalar field, append-only lists
// (intent signals, technologies, news items) union with per-kind dedupe keys.
type Accumulator struct {
	rec *model.SignalRecord

	claimed  map[string]bool
	techSeen map[string]bool
	newsSeen map[string]bool
	sigSeen  map[string]bool
}

// NewAccumulator seeds an empty SignalRecord from the target's known fields.
// Seed values were written first, so they outrank every source.
func NewAccumulator(target model.Target) *Accumulator {
	a := &Accumulator{
		rec:      &model.SignalRecord{EntityID: target.EntityID},
		claimed:  make(map[string]bool),
		techSeen: make(map[string]bool),
		newsSeen: make(map[string]bool),
		sigSeen:  make(map[string]bool),
	}
	if target.Email != "" {
		a.rec.Contact.Email = target.Email
		a.claimed["email"] = true
	}
	if target.LinkedInURL != "" {
		a.rec.Contact.LinkedInURL = target.LinkedInURL
		a.claimed["linkedin_url"] = true
	}
	if target.Company != "" {
		a.rec.Company.Name = normalizeCompanyName(target.Company)
		a.claimed["company_name"] = true
	}
	if target.Domain != "" {
		a.rec.Company.Domain = target.Domain
		a.claimed["company_domain"] = true
	}
	return a
}

// Record returns the merged signal record.
func (a *Accumulator) Record() *model.SignalRecord {
	return a.rec
}

// Apply merges one source's normalized fields and returns the number of data
// points actually written. Callers apply sources in priority order, so a
// field already claimed by an earlier source is discarded here.
func (a *Accumulator) Apply(fields model.RawFields) int {
	written := 0
	for key, value := range fields {
		switch key {
		case "intent_signals":
			written += a.appendSignals(value)
		case "technologies":
			written += a.appendTechnologies(value)
		case "news_items":
			written += a.appendNews(value)
		default:
			if a.applyScalar(key, value) {
				written++
			}
		}
	}
	return written
}

func (a *Accumulator) applyScalar(key string, value any) bool {
	if a.claimed[key] {
		return false
	}

	switch key {
	case "email":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.Email = s
	case "email_verified":
		b, ok := value.(bool)
		if !ok || !b {
			return false
		}
		a.rec.Contact.EmailVerified = true
	case "phone":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.Phone = s
	case "direct_dial":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.DirectDial = s
	case "mobile_phone":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.MobilePhone = s
	case "linkedin_url":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.LinkedInURL = s
	case "twitter_url":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Contact.TwitterURL = s
	case "title":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Professional.Title = s
	case "seniority":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Professional.Seniority = s
	case "department":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Professional.Department = s
	case "skills":
		skills, ok := asStringSlice(value)
		if !ok || len(skills) == 0 {
			return false
		}
		a.rec.Professional.Skills = skills
	case "tenure_months":
		n, ok := asInt(value)
		if !ok || n <= 0 {
			return false
		}
		a.rec.Professional.TenureMonths = n
	case "company_name":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Company.Name = normalizeCompanyName(s)
	case "company_domain":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Company.Domain = strings.ToLower(s)
	case "industry":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Company.Industry = s
	case "employee_count":
		n, ok := asInt(value)
		if !ok || n <= 0 {
			return false
		}
		a.rec.Company.EmployeeCount = n
	case "revenue_usd":
		n, ok := asInt64(value)
		if !ok || n <= 0 {
			return false
		}
		a.rec.Company.RevenueUSD = n
	case "headquarters":
		s, ok := asNonEmptyString(value)
		if !ok {
			return false
		}
		a.rec.Company.Headquarters = s
	case "interaction_count":
		n, ok := asInt(value)
		if !ok || n <= 0 {
			return false
		}
		a.rec.Relationship.InteractionCount = n
	case "last_contacted_at":
		t, ok := asTime(value)
		if !ok {
			return false
		}
		a.rec.Relationship.LastContactedAt = &t
	default:
		// Unknown keys are ignored, not errors: a newer connector may emit
		// fields this build does not track yet.
		return false
	}

	a.claimed[key] = true
	return true
}

func (a *Accumulator) appendSignals(value any) int {
	signals, ok := value.([]model.IntentSignal)
	if !ok {
		return 0
	}
	written := 0
	for _, sig := range signals {
		key := sig.DedupeKey()
		if a.sigSeen[key] {
			continue
		}
		a.sigSeen[key] = true
		a.rec.Intent.Signals = append(a.rec.Intent.Signals, sig)
		written++
	}
	return written
}

func (a *Accumulator) appendTechnologies(value any) int {
	techs, ok := asStringSlice(value)
	if !ok {
		return 0
	}
	written := 0
	for _, tech := range techs {
		key := strings.ToLower(strings.TrimSpace(tech))
		if key == "" || a.techSeen[key] {
			continue
		}
		a.techSeen[key] = true
		a.rec.Company.Technologies = append(a.rec.Company.Technologies, tech)
		written++
	}
	return written
}

func (a *Accumulator) appendNews(value any) int {
	items, ok := value.([]model.NewsItem)
	if !ok {
		return 0
	}
	written := 0
	for _, item := range items {
		if item.URL == "" || a.newsSeen[item.URL] {
			continue
		}
		a.newsSeen[item.URL] = true
		a.rec.Research.NewsItems = append(a.rec.Research.NewsItems, item)
		written++
	}
	return written
}

func asNonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}
