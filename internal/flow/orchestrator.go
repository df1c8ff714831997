// Package flow: the turn orchestrator.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/carebridge/clinicflow/internal/genai"
	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/retrieval"
	"github.com/google/uuid"
)

// DefaultMaxConcurrentGenerations bounds how many generation calls may be in
// flight across all sessions. The per-session lock already guarantees at
// most one per session.
const DefaultMaxConcurrentGenerations = 8

// Dependencies holds everything the orchestrator needs injected.
type Dependencies struct {
	Sessions   *SessionManager
	Router     Router
	Classifier *Classifier
	Selector   *Selector
	Retriever  retrieval.Retriever
	GenAI      genai.ClientInterface
	// MaxConcurrentGenerations bounds the generation worker pool; zero means
	// DefaultMaxConcurrentGenerations.
	MaxConcurrentGenerations int
	// Clock overrides the time source. Used by tests.
	Clock func() time.Time
}

// Orchestrator runs one conversation turn end to end: load and validate the
// session, route, classify and select scripts when the symptom sub-dialog
// starts, call the Generation Service, and commit the turn atomically.
type Orchestrator struct {
	sessions   *SessionManager
	router     Router
	classifier *Classifier
	selector   *Selector
	retriever  retrieval.Retriever
	client     genai.ClientInterface
	genSem     chan struct{}
	now        func() time.Time
}

// NewOrchestrator creates the turn orchestrator from its dependencies.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	slog.Debug("flow.NewOrchestrator: creating orchestrator",
		"hasGenAI", deps.GenAI != nil,
		"hasRetriever", deps.Retriever != nil,
		"maxConcurrentGenerations", deps.MaxConcurrentGenerations)
	limit := deps.MaxConcurrentGenerations
	if limit <= 0 {
		limit = DefaultMaxConcurrentGenerations
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		sessions:   deps.Sessions,
		router:     deps.Router,
		classifier: deps.Classifier,
		selector:   deps.Selector,
		retriever:  deps.Retriever,
		client:     deps.GenAI,
		genSem:     make(chan struct{}, limit),
		now:        now,
	}
}

// StartSession validates the request, checks the retriever, and creates the
// session record. Returns the session id.
func (o *Orchestrator) StartSession(ctx context.Context, req models.StartSessionRequest) (string, error) {
	if err := req.Validate(); err != nil {
		slog.Warn("Orchestrator.StartSession: validation failed", "error", err)
		return "", err
	}

	if o.retriever != nil {
		if err := o.retriever.Ready(ctx); err != nil {
			slog.Error("Orchestrator.StartSession: retriever not ready", "error", err)
			return "", fmt.Errorf("%w: %v", models.ErrRetrieverInit, err)
		}
	}

	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	sess := models.ConversationSession{
		ID:           id,
		DoctorID:     req.DoctorID,
		Demographics: req.Demographics,
		Appointments: req.Appointments,
		RoutingState: models.RoutingUnrouted,
	}
	if err := o.sessions.Create(ctx, sess); err != nil {
		return "", err
	}
	slog.Info("Orchestrator.StartSession: session started", "sessionID", id, "doctorID", req.DoctorID)
	return id, nil
}

// SendMessage runs one conversation turn. The patient message and the agent
// reply commit as one atomic unit: a routing, generation, or store failure
// persists nothing and leaves the session retryable.
func (o *Orchestrator) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResult, error) {
	if err := req.Validate(); err != nil {
		slog.Warn("Orchestrator.SendMessage: validation failed", "error", err)
		return nil, err
	}

	unlock := o.sessions.Lock(req.SessionID)
	defer unlock()

	sess, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	// Per-request snapshot refresh: the scheduling system owns appointment
	// records, the session only mirrors the latest snapshot it was handed.
	if req.Appointments != nil {
		sess.Appointments = req.Appointments
	}
	if req.PrescriptionOverride != "" {
		sess.CarriedPrescription = req.PrescriptionOverride
	}

	firstMessage := sess.FirstPatientMessage() == ""
	now := o.now()
	sess.AppendTurn(models.SpeakerPatient, req.Text, now)

	var selected models.AgentType
	switch sess.RoutingState {
	case models.RoutingAwaitingEpisodeAnswer:
		ResolveEpisodeAnswer(sess, req.Text)
		selected = sess.ActiveAgent

	case models.RoutingUnrouted:
		decision := o.router.Decide(ctx, now, sess, req.Text, firstMessage)
		if decision.State == models.RoutingAwaitingEpisodeAnswer {
			// The episode question is emitted directly; no agent runs this
			// turn. Entering this state consumes the session's single shot.
			sess.RoutingState = models.RoutingAwaitingEpisodeAnswer
			sess.EpisodeCheckUsed = true
			sess.AppendTurn(models.SpeakerAgent, decision.EpisodeQuestion, o.now())
			if err := o.sessions.Save(ctx, *sess); err != nil {
				return nil, err
			}
			return &models.SendMessageResult{Reply: decision.EpisodeQuestion}, nil
		}
		sess.RoutingState = models.RoutingRouted
		sess.ActiveAgent = decision.Agent
		selected = decision.Agent

	case models.RoutingRouted:
		// Sticky routing: the agent chosen for this session is reused
		// without re-evaluating the dispatch rules.

	default:
		slog.Warn("Orchestrator.SendMessage: unknown routing state, re-routing", "state", sess.RoutingState, "sessionID", sess.ID)
		decision := o.router.Decide(ctx, now, sess, req.Text, firstMessage)
		sess.RoutingState = models.RoutingRouted
		sess.ActiveAgent = decision.Agent
		selected = decision.Agent
	}

	reply, err := o.runAgent(ctx, sess, req.Text)
	if err != nil {
		return nil, err
	}

	sess.AppendTurn(models.SpeakerAgent, reply, o.now())
	if err := o.sessions.Save(ctx, *sess); err != nil {
		return nil, err
	}

	result := &models.SendMessageResult{Reply: reply, SelectedAgent: string(selected)}
	slog.Info("Orchestrator.SendMessage: turn complete", "sessionID", sess.ID, "agent", sess.ActiveAgent, "turns", len(sess.History))
	return result, nil
}

// runAgent builds the active agent's system prompt and calls the Generation
// Service. Generation failures surface as ErrGenerationFailed and commit
// nothing.
func (o *Orchestrator) runAgent(ctx context.Context, sess *models.ConversationSession, message string) (string, error) {
	var system string
	switch sess.ActiveAgent {
	case models.AgentInfo:
		script := o.selector.Resolve(models.CategoryInfo)
		system = buildInfoSystem(script, o.retrieveContext(ctx, message), sess)

	case models.AgentSymptom:
		o.initSymptomScript(ctx, sess)
		system = buildSymptomSystem(*sess.CachedScript, sess)

	case models.AgentFollowup:
		script := o.selector.Resolve(models.CategoryFollowup)
		system = buildFollowupSystem(script, sess)

	default:
		// Routing is total, so this is a programming error rather than a
		// recoverable condition.
		return "", fmt.Errorf("%w: no active agent for session %s", models.ErrGenerationFailed, sess.ID)
	}

	select {
	case o.genSem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, ctx.Err())
	}
	defer func() { <-o.genSem }()

	reply, err := o.client.Generate(ctx, system, sess.History)
	if err != nil {
		slog.Error("Orchestrator.runAgent: generation failed", "error", err, "sessionID", sess.ID, "agent", sess.ActiveAgent)
		return "", fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
	}
	return reply, nil
}

// initSymptomScript runs the classifier and selector exactly once per
// session, on first entry to the symptom agent, and caches the resolved
// script for the session's remaining lifetime.
func (o *Orchestrator) initSymptomScript(ctx context.Context, sess *models.ConversationSession) {
	if sess.CachedScript != nil {
		return
	}
	key := o.classifier.Classify(ctx, models.ClassificationInput{
		AgeText:        sess.Demographics.Age,
		Gender:         sess.Demographics.Gender,
		VisitType:      sess.Demographics.VisitType,
		ChiefComplaint: sess.Demographics.ChiefComplaint,
	})
	script := o.selector.Resolve(key)
	sess.CachedScript = &script
	slog.Info("Orchestrator.initSymptomScript: symptom script cached", "sessionID", sess.ID, "category", key, "scriptKey", script.Key)
}

// retrieveContext fetches document chunks for the info agent. Retrieval
// failures degrade to an empty context; they never surface to the caller.
func (o *Orchestrator) retrieveContext(ctx context.Context, query string) []string {
	if o.retriever == nil {
		return nil
	}
	chunks, err := o.retriever.Retrieve(ctx, query, retrieval.DefaultChunkCount)
	if err != nil {
		slog.Warn("Orchestrator.retrieveContext: retrieval failed, continuing without context", "error", err)
		return nil
	}
	return chunks
}
