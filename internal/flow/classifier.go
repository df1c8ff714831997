// Package flow: age/visit classification with deterministic fallback.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/carebridge/clinicflow/internal/genai"
	"github.com/carebridge/clinicflow/internal/models"
)

const (
	// DefaultAgeMonths applies when the age text cannot be parsed at all.
	DefaultAgeMonths = 9.0
	// bucketEpsilon is the tolerance, in months, for an exact bucket hit.
	bucketEpsilon = 0.05
)

// classifierInstruction is the fixed instruction for the advisory semantic
// classifier. The returned label must already exist in the category
// vocabulary or it is discarded.
const classifierInstruction = `You classify a pediatric patient into one question-script category.
Given age, gender, visit type, and chief complaint, answer with exactly one
category key from the provided vocabulary and nothing else.`

// Classifier resolves demographics and visit info to a script category key.
// Classify is total: it returns a key for any input, including empty strings
// and an unreachable semantic classifier.
type Classifier struct {
	client genai.ClientInterface
	cfg    models.ClassifierConfig
	valid  map[models.CategoryKey]bool
}

// NewClassifier creates a classifier with the given advisory client (may be
// nil for fallback-only operation) and domain configuration.
func NewClassifier(client genai.ClientInterface, cfg models.ClassifierConfig) *Classifier {
	c := &Classifier{client: client, cfg: cfg, valid: make(map[models.CategoryKey]bool)}
	for _, key := range c.vocabulary() {
		c.valid[key] = true
	}
	return c
}

// vocabulary lists every category key the classifier may produce.
func (c *Classifier) vocabulary() []models.CategoryKey {
	keys := []models.CategoryKey{
		models.CategoryGeneral,
		models.CategoryUnderSixMonths,
		models.CategoryVaccineOlderChild,
		c.cfg.MaleCategory,
		c.cfg.FemaleCategory,
	}
	for _, b := range c.cfg.Buckets {
		keys = append(keys, b.Key)
		if b.GenderSuffix {
			keys = append(keys, b.Key+"_male", b.Key+"_female")
		}
	}
	return keys
}

// Classify returns the category key for the input. The semantic classifier
// is consulted first and its label accepted only when it is part of the
// vocabulary; every other outcome takes the deterministic fallback.
func (c *Classifier) Classify(ctx context.Context, in models.ClassificationInput) models.CategoryKey {
	if c.client != nil {
		input := fmt.Sprintf("age: %s\ngender: %s\nvisit type: %s\nchief complaint: %s\nvocabulary: %s",
			in.AgeText, in.Gender, in.VisitType, in.ChiefComplaint, joinKeys(c.vocabulary()))
		label, err := c.client.GenerateLabel(ctx, classifierInstruction, input)
		if err == nil {
			if key := models.CategoryKey(strings.TrimSpace(label)); c.valid[key] {
				slog.Debug("Classifier.Classify: semantic label accepted", "key", key)
				return key
			}
			slog.Warn("Classifier.Classify: semantic label not in vocabulary, falling back", "label", label)
		} else {
			slog.Warn("Classifier.Classify: semantic classifier unreachable, falling back", "error", err)
		}
	}
	return c.fallback(in)
}

// fallback is the deterministic classification path.
func (c *Classifier) fallback(in models.ClassificationInput) models.CategoryKey {
	months := ParseAgeMonths(in.AgeText)

	if c.isVaccineVisit(in) {
		key := c.vaccineBucket(months, in.Gender)
		slog.Debug("Classifier.fallback: vaccine bucket selected", "ageMonths", months, "key", key)
		return key
	}

	if months < 6 {
		return models.CategoryUnderSixMonths
	}

	complaint := strings.ToLower(in.ChiefComplaint)
	if containsAny(complaint, c.cfg.MaleKeywords) {
		return c.cfg.MaleCategory
	}
	if containsAny(complaint, c.cfg.FemaleKeywords) {
		return c.cfg.FemaleCategory
	}
	return models.CategoryGeneral
}

// isVaccineVisit reports whether the visit type or complaint marks a
// vaccination visit.
func (c *Classifier) isVaccineVisit(in models.ClassificationInput) bool {
	text := strings.ToLower(in.VisitType + " " + in.ChiefComplaint)
	return containsAny(text, c.cfg.VaccineKeywords)
}

// vaccineBucket picks the schedule bucket for an age in months: the exact
// bucket when one matches, else the greatest bucket strictly below the age.
// Ages below every bucket resolve by infant/older-child split.
func (c *Classifier) vaccineBucket(months float64, gender string) models.CategoryKey {
	var below *models.AgeBucket
	for i := range c.cfg.Buckets {
		b := &c.cfg.Buckets[i]
		diff := months - b.Months
		if diff >= -bucketEpsilon && diff <= bucketEpsilon {
			return c.bucketKey(*b, gender)
		}
		if b.Months < months-bucketEpsilon && (below == nil || b.Months > below.Months) {
			below = b
		}
	}
	if below != nil {
		return c.bucketKey(*below, gender)
	}
	if months < 6 {
		return models.CategoryUnderSixMonths
	}
	return models.CategoryVaccineOlderChild
}

// bucketKey applies the gender suffix for the buckets that carry one.
func (c *Classifier) bucketKey(b models.AgeBucket, gender string) models.CategoryKey {
	if !b.GenderSuffix {
		return b.Key
	}
	switch normalizeGender(gender) {
	case "male":
		return b.Key + "_male"
	case "female":
		return b.Key + "_female"
	default:
		return b.Key
	}
}

var agePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]*)`)

// ParseAgeMonths parses free-text age as number+unit and returns the age in
// fractional months. A bare number below 6 is read as months, otherwise as
// years; unparseable text defaults to 9 months. The function never fails.
func ParseAgeMonths(text string) float64 {
	m := agePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return DefaultAgeMonths
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return DefaultAgeMonths
	}

	unit := strings.ToLower(strings.TrimSuffix(m[2], "."))
	switch unit {
	case "w", "wk", "wks", "week", "weeks":
		return value * 7.0 / 30.4375
	case "m", "mo", "mos", "mon", "month", "months":
		return value
	case "y", "yr", "yrs", "year", "years":
		return value * 12
	case "":
		if value < 6 {
			return value
		}
		return value * 12
	default:
		return DefaultAgeMonths
	}
}

// normalizeGender maps free-text gender to "male", "female", or "".
func normalizeGender(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "m", "male", "boy":
		return "male"
	case "f", "female", "girl":
		return "female"
	default:
		return ""
	}
}

// containsAny reports whether text contains any of the keywords.
func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// joinKeys renders the vocabulary for the semantic classifier's instruction.
func joinKeys(keys []models.CategoryKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}
