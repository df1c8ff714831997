// Package models defines routing and classification types shared across
// modules, kept here to avoid circular imports.
package models

// RoutingState is the router's position in the per-session state machine.
type RoutingState string

const (
	// RoutingUnrouted means the dispatch rules have not selected an agent yet.
	RoutingUnrouted RoutingState = "UNROUTED"
	// RoutingAwaitingEpisodeAnswer means the session asked the yes/no
	// same-episode question and is waiting for the patient's answer.
	RoutingAwaitingEpisodeAnswer RoutingState = "AWAITING_EPISODE_ANSWER"
	// RoutingRouted means an agent is selected and sticky for the session.
	RoutingRouted RoutingState = "ROUTED"
)

// AgentType identifies one of the specialized conversational agents.
type AgentType string

const (
	// AgentInfo answers general clinic/doctor information questions.
	AgentInfo AgentType = "INFO"
	// AgentSymptom collects pre-appointment symptom details.
	AgentSymptom AgentType = "SYMPTOM"
	// AgentFollowup handles post-appointment follow-up conversations.
	AgentFollowup AgentType = "FOLLOWUP"
)

// IsValidAgentType checks if the given agent type is supported.
func IsValidAgentType(a AgentType) bool {
	switch a {
	case AgentInfo, AgentSymptom, AgentFollowup:
		return true
	default:
		return false
	}
}

// CategoryKey is an opaque selector for a question script bucket.
type CategoryKey string

// Well-known category keys. Everything else in the catalog is domain
// content loaded from the store.
const (
	// CategoryGeneral is the guaranteed fallback bucket.
	CategoryGeneral CategoryKey = "general"
	// CategoryUnderSixMonths covers infants younger than six months.
	CategoryUnderSixMonths CategoryKey = "less_than_6_months"
	// CategoryVaccineOlderChild is the generic vaccination bucket for
	// children whose age fits no scheduled dose bucket.
	CategoryVaccineOlderChild CategoryKey = "vaccine_older_child"
	// CategoryInfo selects the information agent's script.
	CategoryInfo CategoryKey = "info"
	// CategoryFollowup selects the follow-up agent's script.
	CategoryFollowup CategoryKey = "followup"
)

// Script is one question script from the prompt catalog.
type Script struct {
	Key  CategoryKey `json:"key"`
	Body string      `json:"body"`
}

// ClassificationInput is the ephemeral input of one classification call.
type ClassificationInput struct {
	AgeText        string `json:"age_text"`
	Gender         string `json:"gender"`
	VisitType      string `json:"visit_type"`
	ChiefComplaint string `json:"chief_complaint"`
}

// AgeBucket is one vaccination-schedule age bucket. Months is the bucket age
// expressed in fractional months; GenderSuffix marks buckets whose key gains
// a _male/_female suffix when the patient's gender is known.
type AgeBucket struct {
	Key          CategoryKey `json:"key"`
	Months       float64     `json:"months"`
	GenderSuffix bool        `json:"gender_suffix,omitempty"`
}

// ClassifierConfig is the domain content behind the deterministic fallback
// classifier. It is loaded from the store at startup so clinics can tune it
// without a rebuild; DefaultClassifierConfig applies when no record exists.
type ClassifierConfig struct {
	// VaccineKeywords mark a visit type or complaint as a vaccination visit.
	VaccineKeywords []string `json:"vaccine_keywords"`
	// MaleKeywords map male-specific complaints to MaleCategory.
	MaleKeywords []string `json:"male_keywords"`
	// FemaleKeywords map female-specific complaints to FemaleCategory.
	FemaleKeywords []string `json:"female_keywords"`
	// MaleCategory and FemaleCategory are the gendered complaint buckets.
	MaleCategory   CategoryKey `json:"male_category"`
	FemaleCategory CategoryKey `json:"female_category"`
	// Buckets is the ordered vaccination age-bucket list, ascending in months.
	Buckets []AgeBucket `json:"buckets"`
}

const weekMonths = 7.0 / 30.4375

// DefaultClassifierConfig returns the compiled-in classifier domain content:
// the standard pediatric immunization schedule buckets and the stock
// gender-specific complaint vocabularies.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		VaccineKeywords: []string{"vaccine", "vaccination", "immunization", "immunisation", "shot", "booster"},
		MaleKeywords:    []string{"penis", "foreskin", "circumcision", "scrotum", "testicle", "testis", "hydrocele", "hernia groin"},
		FemaleKeywords:  []string{"vagina", "vaginal", "labia", "menstruation", "menstrual", "period", "breast", "discharge girl"},
		MaleCategory:    "male_specific",
		FemaleCategory:  "female_specific",
		Buckets: []AgeBucket{
			{Key: "6w", Months: 6 * weekMonths},
			{Key: "10w", Months: 10 * weekMonths},
			{Key: "12w", Months: 12 * weekMonths},
			{Key: "6m", Months: 6},
			{Key: "7m", Months: 7},
			{Key: "9m", Months: 9},
			{Key: "12m", Months: 12},
			{Key: "15m", Months: 15},
			{Key: "18m", Months: 18},
			{Key: "20m", Months: 20},
			{Key: "24m", Months: 24},
			{Key: "30m", Months: 30},
			{Key: "36m", Months: 36},
			{Key: "42m", Months: 42},
			{Key: "48m", Months: 48},
			{Key: "54m", Months: 54},
			{Key: "60m", Months: 60},
			{Key: "66m", Months: 66},
			{Key: "72m", Months: 72},
			{Key: "10y", Months: 120, GenderSuffix: true},
			{Key: "11y", Months: 132, GenderSuffix: true},
			{Key: "16y", Months: 192, GenderSuffix: true},
		},
	}
}
