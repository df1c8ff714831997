// Package models defines the core data structures for ClinicFlow.
//
// It includes the conversation session, transcript turns, appointment
// snapshots, and the error taxonomy shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	// SpeakerPatient marks a turn written by the patient.
	SpeakerPatient Speaker = "patient"
	// SpeakerAgent marks a turn written by one of the conversational agents.
	SpeakerAgent Speaker = "agent"
)

// Turn is a single transcript entry. Turns are immutable once appended.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AppointmentStatus is the scheduling state of an appointment record.
type AppointmentStatus string

const (
	// AppointmentBooked is a future appointment that has not happened yet.
	AppointmentBooked AppointmentStatus = "booked"
	// AppointmentCompleted is an appointment the patient already attended.
	AppointmentCompleted AppointmentStatus = "completed"
)

// AppointmentRecord is a non-owning snapshot of one appointment held by the
// external scheduling system. ScheduledAt is the raw RFC 3339 string from the
// snapshot payload; malformed values make the record non-qualifying for
// routing rather than an error.
type AppointmentRecord struct {
	DoctorID       string            `json:"doctor_id"`
	ScheduledAt    string            `json:"scheduled_at"`
	Status         AppointmentStatus `json:"status"`
	EpisodeSummary string            `json:"episode_summary,omitempty"`
	Prescription   string            `json:"prescription,omitempty"`
}

// ScheduledTime parses the appointment timestamp. The second return value
// reports whether the timestamp was present and well-formed.
func (a AppointmentRecord) ScheduledTime() (time.Time, bool) {
	if strings.TrimSpace(a.ScheduledAt) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, a.ScheduledAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Demographics holds the patient details captured at session start.
type Demographics struct {
	Age            string `json:"age"`
	Gender         string `json:"gender"`
	VisitType      string `json:"visit_type"`
	ChiefComplaint string `json:"chief_complaint"`
}

// ConversationSession is the durable state of one conversation thread.
// History is append-only and insertion-ordered; LastActivity is monotonically
// non-decreasing; at most one ActiveAgent is set once routing completes.
type ConversationSession struct {
	ID           string              `json:"id"`
	DoctorID     string              `json:"doctor_id"`
	Demographics Demographics        `json:"demographics"`
	Appointments []AppointmentRecord `json:"appointments,omitempty"`

	RoutingState RoutingState `json:"routing_state"`
	ActiveAgent  AgentType    `json:"active_agent,omitempty"`
	// EpisodeCheckUsed flips on entry to RoutingAwaitingEpisodeAnswer and
	// never resets, making the episode check single-shot per session.
	EpisodeCheckUsed bool `json:"episode_check_used,omitempty"`

	// CarriedPrescription and CarriedEpisodeSummary hold the prior episode
	// context copied in when the patient confirms the same episode.
	CarriedPrescription   string `json:"carried_prescription,omitempty"`
	CarriedEpisodeSummary string `json:"carried_episode_summary,omitempty"`

	// CachedScript is resolved once on first entry to the symptom agent and
	// reused for the session's remaining lifetime.
	CachedScript *Script `json:"cached_script,omitempty"`

	History      []Turn    `json:"history"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// AppendTurn adds a turn to the transcript. History is never mutated or
// truncated elsewhere.
func (s *ConversationSession) AppendTurn(speaker Speaker, text string, at time.Time) {
	s.History = append(s.History, Turn{Speaker: speaker, Text: text, Timestamp: at})
}

// FirstPatientMessage returns the first patient turn in the transcript, or
// empty when the patient has not spoken yet.
func (s *ConversationSession) FirstPatientMessage() string {
	for _, t := range s.History {
		if t.Speaker == SpeakerPatient {
			return t.Text
		}
	}
	return ""
}

// Error variables for better error handling and testability
var (
	// ErrSessionNotFound indicates the session id is unknown to the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates the session exceeded the idle timeout and
	// was evicted as a side effect of the lookup.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionExists indicates a create collided with an active session id.
	ErrSessionExists = errors.New("session already exists")
	// ErrMissingFields indicates start-session validation failed.
	ErrMissingFields = errors.New("missing required fields")
	// ErrGenerationFailed indicates the external generation call failed; the
	// turn was not committed and the caller may retry with the same session.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrRetrieverInit indicates the context retriever could not be prepared
	// for a new session.
	ErrRetrieverInit = errors.New("retriever initialization failed")
	// ErrScriptUnavailable is internal only: the selector recovers it with
	// the built-in apology script.
	ErrScriptUnavailable = errors.New("script unavailable")
)
