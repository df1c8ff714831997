// Package flow: appointment-based agent routing.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carebridge/clinicflow/internal/models"
)

// NearFutureWindow is how far ahead a booked appointment still counts as
// imminent for routing.
const NearFutureWindow = 48 * time.Hour

// RoutingDecision is the outcome of one dispatch evaluation.
type RoutingDecision struct {
	// State is RoutingRouted or RoutingAwaitingEpisodeAnswer.
	State models.RoutingState
	// Agent is set when State is RoutingRouted.
	Agent models.AgentType
	// EpisodeQuestion is the yes/no question emitted when State is
	// RoutingAwaitingEpisodeAnswer.
	EpisodeQuestion string
	// Rule records which dispatch rule fired, for logging.
	Rule int
}

// Router selects the active agent for an unrouted session. Routing never
// fails: malformed inputs degrade to the default rule.
type Router interface {
	Decide(ctx context.Context, now time.Time, sess *models.ConversationSession, message string, firstMessage bool) RoutingDecision
}

// RuleBasedRouter is the reference dispatcher: deterministic business rules
// over the appointment snapshot, first match wins.
type RuleBasedRouter struct{}

// NewRuleBasedRouter creates the reference rule-based router.
func NewRuleBasedRouter() *RuleBasedRouter {
	return &RuleBasedRouter{}
}

// Decide evaluates the dispatch rules for one unrouted turn.
func (r *RuleBasedRouter) Decide(ctx context.Context, now time.Time, sess *models.ConversationSession, message string, firstMessage bool) RoutingDecision {
	booked := nearFutureBooked(now, sess.DoctorID, sess.Appointments)
	completed := completedWith(sess.DoctorID, sess.Appointments)

	slog.Debug("RuleBasedRouter.Decide: evaluating rules",
		"sessionID", sess.ID,
		"doctorID", sess.DoctorID,
		"nearFutureBooked", len(booked),
		"completed", len(completed),
		"firstMessage", firstMessage)

	// Rule 1: canonical greeting naming the doctor, no prior episode.
	if firstMessage && isDoctorGreeting(message, sess.DoctorID) && len(completed) == 0 {
		slog.Info("RuleBasedRouter.Decide: routed", "sessionID", sess.ID, "agent", models.AgentInfo, "rule", 1)
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentInfo, Rule: 1}
	}

	// Rule 2: imminent booked appointment, no prior episode.
	if len(booked) > 0 && len(completed) == 0 {
		slog.Info("RuleBasedRouter.Decide: routed", "sessionID", sess.ID, "agent", models.AgentSymptom, "rule", 2)
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentSymptom, Rule: 2}
	}

	// Rule 3: imminent booked appointment and a prior episode: ask whether
	// this is the same episode before picking an agent. Single-shot per
	// session.
	if len(booked) > 0 && len(completed) > 0 && !sess.EpisodeCheckUsed {
		prior := matchedEpisode(sess.DoctorID, sess.Appointments)
		question := "Let's discuss your current symptoms."
		if prior != nil && prior.EpisodeSummary != "" {
			question = fmt.Sprintf("Is this related to your previous visit for %s? Please answer 'yes' or 'no'.", prior.EpisodeSummary)
		}
		slog.Info("RuleBasedRouter.Decide: awaiting episode answer", "sessionID", sess.ID, "rule", 3)
		return RoutingDecision{State: models.RoutingAwaitingEpisodeAnswer, EpisodeQuestion: question, Rule: 3}
	}

	// Rule 4: prior episode and no qualifying future appointment.
	if len(completed) > 0 && len(booked) == 0 {
		slog.Info("RuleBasedRouter.Decide: routed", "sessionID", sess.ID, "agent", models.AgentFollowup, "rule", 4)
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentFollowup, Rule: 4}
	}

	// Rule 5: a chief complaint without any appointment context.
	if strings.TrimSpace(sess.Demographics.ChiefComplaint) != "" {
		slog.Info("RuleBasedRouter.Decide: routed", "sessionID", sess.ID, "agent", models.AgentSymptom, "rule", 5)
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentSymptom, Rule: 5}
	}

	// Rule 6: default.
	slog.Info("RuleBasedRouter.Decide: routed", "sessionID", sess.ID, "agent", models.AgentInfo, "rule", 6)
	return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentInfo, Rule: 6}
}

// ResolveEpisodeAnswer consumes the patient's yes/no answer to the
// same-episode question and mutates the session into ROUTED(SYMPTOM). A
// "yes" carries the prior episode's prescription and summary into the
// session; anything else carries nothing.
func ResolveEpisodeAnswer(sess *models.ConversationSession, answer string) {
	sess.RoutingState = models.RoutingRouted
	sess.ActiveAgent = models.AgentSymptom

	normalized := strings.ToLower(strings.TrimSpace(answer))
	yes := normalized == "y" || strings.HasPrefix(normalized, "yes")
	if !yes {
		slog.Debug("flow.ResolveEpisodeAnswer: new episode", "sessionID", sess.ID, "answer", answer)
		return
	}

	prior := matchedEpisode(sess.DoctorID, sess.Appointments)
	if prior == nil {
		slog.Warn("flow.ResolveEpisodeAnswer: no completed appointment to carry context from", "sessionID", sess.ID)
		return
	}
	sess.CarriedPrescription = prior.Prescription
	sess.CarriedEpisodeSummary = prior.EpisodeSummary
	slog.Info("flow.ResolveEpisodeAnswer: carried prior episode context", "sessionID", sess.ID, "summary", prior.EpisodeSummary)
}

// nearFutureBooked returns the doctor's booked appointments scheduled within
// the near-future window. Records with malformed or missing timestamps never
// qualify.
func nearFutureBooked(now time.Time, doctorID string, appts []models.AppointmentRecord) []models.AppointmentRecord {
	var out []models.AppointmentRecord
	for _, a := range appts {
		if a.DoctorID != doctorID || a.Status != models.AppointmentBooked {
			continue
		}
		t, ok := a.ScheduledTime()
		if !ok {
			slog.Debug("flow.nearFutureBooked: skipping malformed appointment timestamp", "doctorID", doctorID, "scheduledAt", a.ScheduledAt)
			continue
		}
		if !t.Before(now) && t.Sub(now) < NearFutureWindow {
			out = append(out, a)
		}
	}
	return out
}

// completedWith returns the doctor's completed appointments.
func completedWith(doctorID string, appts []models.AppointmentRecord) []models.AppointmentRecord {
	var out []models.AppointmentRecord
	for _, a := range appts {
		if a.DoctorID == doctorID && a.Status == models.AppointmentCompleted {
			out = append(out, a)
		}
	}
	return out
}

// matchedEpisode picks the completed appointment backing the same-episode
// question, preferring one carrying an episode summary.
func matchedEpisode(doctorID string, appts []models.AppointmentRecord) *models.AppointmentRecord {
	completed := completedWith(doctorID, appts)
	for i := range completed {
		if completed[i].EpisodeSummary != "" {
			return &completed[i]
		}
	}
	if len(completed) > 0 {
		return &completed[0]
	}
	return nil
}

// isDoctorGreeting reports whether message is a canonical greeting naming
// the doctor, e.g. "Hello Dr. A".
func isDoctorGreeting(message, doctorID string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	doctor := strings.ToLower(strings.TrimSpace(doctorID))
	if doctor == "" {
		return false
	}
	for _, prefix := range []string{"hello ", "hi "} {
		if strings.HasPrefix(msg, prefix) && strings.HasPrefix(strings.TrimSpace(msg[len(prefix):]), doctor) {
			return true
		}
	}
	return false
}
