package pipeline

import (
	"math"
	"time"

	"github.com/sells-group/prospect-sync/internal/model"
)

// QualityScore runs the weighted presence checklist over a merged record.
// Saturating: the sum of satisfied weights is capped at 100.
func QualityScore(rec *model.SignalRecord, w QualityWeights) int {
	score := 0
	if rec.Contact.EmailVerified {
		score += w.VerifiedEmail
	}
	if rec.Contact.Phone != "" || rec.Contact.DirectDial != "" || rec.Contact.MobilePhone != "" {
		score += w.AnyPhone
	}
	if rec.Contact.LinkedInURL != "" {
		score += w.LinkedInURL
	}
	if rec.Professional.Title != "" {
		score += w.Title
	}
	if rec.Professional.Department != "" {
		score += w.Department
	}
	if rec.Professional.Seniority != "" {
		score += w.Seniority
	}
	if rec.Company.Industry != "" && rec.Company.EmployeeCount > 0 {
		score += w.IndustryAndSize
	}
	if len(rec.Intent.Signals) > 0 {
		score += w.HasIntentSignal
	}
	if len(rec.Research.NewsItems) > 0 {
		score += w.HasNewsItem
	}
	return clampScore(score)
}

// completenessChecklist is the fixed field set the completeness score tracks.
const completenessChecklist = 10

// CompletenessScore is the filled fraction of the fixed 10-field checklist,
// rounded to a percentage.
func CompletenessScore(rec *model.SignalRecord) int {
	filled := 0
	if rec.Contact.Email != "" {
		filled++
	}
	if rec.Contact.Phone != "" || rec.Contact.DirectDial != "" {
		filled++
	}
	if rec.Contact.LinkedInURL != "" {
		filled++
	}
	if rec.Professional.Title != "" {
		filled++
	}
	if rec.Professional.Department != "" {
		filled++
	}
	if rec.Professional.Seniority != "" {
		filled++
	}
	if rec.Company.Name != "" {
		filled++
	}
	if rec.Company.Industry != "" {
		filled++
	}
	if rec.Company.EmployeeCount > 0 {
		filled++
	}
	if len(rec.Company.Technologies) > 0 {
		filled++
	}
	return int(math.Round(100 * float64(filled) / float64(completenessChecklist)))
}

// IntentScore weights each signal by type scaled by confidence, then adds a
// flat boost for the inferred buying stage. Saturating at 100.
func IntentScore(signals []model.IntentSignal, stage model.BuyingStage, w ScoreWeights) int {
	total := 0.0
	for _, sig := range signals {
		weight := w.Intent[string(sig.Type)]
		confidence := sig.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}
		total += float64(weight) * float64(confidence) / 100
	}
	total += float64(w.StageBoost[string(stage)])
	return clampScore(int(math.Round(total)))
}

// InferBuyingStage derives the buying-journey position from which signal
// types are present. Active engagement (downloads, searches) outranks passive
// observations (news, funding, hiring, stack changes).
func InferBuyingStage(signals []model.IntentSignal) model.BuyingStage {
	if len(signals) == 0 {
		return ""
	}

	var hasVisit, hasActive bool
	for _, sig := range signals {
		switch sig.Type {
		case model.IntentPageVisit:
			hasVisit = true
		case model.IntentContentDownload, model.IntentSearchQuery:
			hasActive = true
		}
	}

	switch {
	case hasActive && hasVisit:
		return model.StagePurchase
	case hasActive:
		return model.StageDecision
	case hasVisit:
		return model.StageConsideration
	default:
		return model.StageAwareness
	}
}

// Freshness decay boundaries: data newer than 90 days scores full marks,
// then decays linearly to 0.5 at one year and 0.2 at three years.
const (
	freshFullDays  = 90
	freshMidDays   = 365
	freshFloorDays = 1095
)

// FreshnessScore decays with the age of the newest dated data point (news
// publication or intent signal). A record with no dated data scores full
// marks rather than penalizing static contact facts.
func FreshnessScore(rec *model.SignalRecord, now time.Time) int {
	newest := time.Time{}
	for _, item := range rec.Research.NewsItems {
		if item.PublishedAt.After(newest) {
			newest = item.PublishedAt
		}
	}
	for _, sig := range rec.Intent.Signals {
		if sig.Timestamp.After(newest) {
			newest = sig.Timestamp
		}
	}
	if newest.IsZero() {
		return 100
	}

	ageDays := now.Sub(newest).Hours() / 24
	var factor float64
	switch {
	case ageDays <= freshFullDays:
		factor = 1.0
	case ageDays <= freshMidDays:
		factor = 1.0 - 0.5*(ageDays-freshFullDays)/(freshMidDays-freshFullDays)
	case ageDays <= freshFloorDays:
		factor = 0.5 - 0.3*(ageDays-freshMidDays)/(freshFloorDays-freshMidDays)
	default:
		factor = 0.2
	}
	return clampScore(int(math.Round(factor * 100)))
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
