// Package flow: model-assisted routing variant.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carebridge/clinicflow/internal/genai"
	"github.com/carebridge/clinicflow/internal/models"
)

// routerInstruction is the fixed labeling instruction for the model-assisted
// router. The model's answer is advisory only.
const routerInstruction = `You route a pediatric clinic conversation to one agent.
Answer with exactly one word: info, symptom, followup, or episode_check.
- info: general questions about the clinic or doctor, no prior visits
- symptom: pre-appointment symptom collection
- followup: post-appointment follow-up on a completed visit
- episode_check: a past visit exists and an appointment is imminent, so the patient must first confirm whether this is the same medical episode`

// ModelAssistedRouter asks the Generation Service to name the agent and
// falls back to the rule-based reference router whenever the model is
// unreachable or its output is invalid for the session.
type ModelAssistedRouter struct {
	client   genai.ClientInterface
	fallback *RuleBasedRouter
}

// NewModelAssistedRouter creates a model-assisted router over the reference
// rule-based one.
func NewModelAssistedRouter(client genai.ClientInterface) *ModelAssistedRouter {
	return &ModelAssistedRouter{client: client, fallback: NewRuleBasedRouter()}
}

// Decide asks the model for an agent label and validates it against the
// session; anything invalid degrades to the rule-based decision.
func (r *ModelAssistedRouter) Decide(ctx context.Context, now time.Time, sess *models.ConversationSession, message string, firstMessage bool) RoutingDecision {
	reference := r.fallback.Decide(ctx, now, sess, message, firstMessage)
	if r.client == nil {
		return reference
	}

	input := fmt.Sprintf("doctor: %s\nfirst message: %t\nbooked within 48h: %t\ncompleted visit: %t\nchief complaint: %s\nmessage: %s",
		sess.DoctorID,
		firstMessage,
		len(nearFutureBooked(now, sess.DoctorID, sess.Appointments)) > 0,
		len(completedWith(sess.DoctorID, sess.Appointments)) > 0,
		sess.Demographics.ChiefComplaint,
		message,
	)
	label, err := r.client.GenerateLabel(ctx, routerInstruction, input)
	if err != nil {
		slog.Warn("ModelAssistedRouter.Decide: labeling failed, using rule-based decision", "error", err, "sessionID", sess.ID)
		return reference
	}

	switch strings.TrimSpace(label) {
	case "info":
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentInfo}
	case "symptom":
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentSymptom}
	case "followup":
		return RoutingDecision{State: models.RoutingRouted, Agent: models.AgentFollowup}
	case "episode_check":
		// Only legal when the rule-based router would also ask; the episode
		// check is single-shot and needs a prior episode to name.
		if reference.State == models.RoutingAwaitingEpisodeAnswer {
			return reference
		}
		slog.Warn("ModelAssistedRouter.Decide: episode_check not legal for session, using rule-based decision", "sessionID", sess.ID)
		return reference
	default:
		slog.Warn("ModelAssistedRouter.Decide: unrecognized label, using rule-based decision", "label", label, "sessionID", sess.ID)
		return reference
	}
}
