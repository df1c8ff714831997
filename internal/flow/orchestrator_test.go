package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/retrieval"
	"github.com/carebridge/clinicflow/internal/store"
)

type orchestratorFixture struct {
	orch  *Orchestrator
	store *store.InMemoryStore
	gen   *mockGenAI
	clock *fakeClock
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	st := store.NewInMemoryStore()
	gen := &mockGenAI{reply: "Understood, let me help with that."}
	clock := &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	orch := NewOrchestrator(Dependencies{
		Sessions:   NewSessionManager(st, WithClock(clock.Now)),
		Router:     NewRuleBasedRouter(),
		Classifier: NewClassifier(gen, models.DefaultClassifierConfig()),
		Selector:   NewSelector(st),
		Retriever:  retrieval.NewStoreRetriever(st),
		GenAI:      gen,
		Clock:      clock.Now,
	})
	return &orchestratorFixture{orch: orch, store: st, gen: gen, clock: clock}
}

func (f *orchestratorFixture) start(t *testing.T, req models.StartSessionRequest) string {
	t.Helper()
	id, err := f.orch.StartSession(context.Background(), req)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return id
}

func TestStartSessionGeneratesID(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	})
	if id == "" {
		t.Fatal("expected generated session id")
	}
	sess, err := f.store.GetSession(id)
	if err != nil || sess == nil {
		t.Fatalf("session not persisted: sess=%v err=%v", sess, err)
	}
	if sess.RoutingState != models.RoutingUnrouted {
		t.Errorf("RoutingState = %q, want %q", sess.RoutingState, models.RoutingUnrouted)
	}
}

func TestStartSessionValidation(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, err := f.orch.StartSession(context.Background(), models.StartSessionRequest{DoctorID: "Dr. A"})
	if !errors.Is(err, models.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	_, err = f.orch.StartSession(context.Background(), models.StartSessionRequest{
		Demographics: models.Demographics{Age: "3 years"},
	})
	if !errors.Is(err, models.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields for missing doctor, got %v", err)
	}
}

func TestStartSessionDuplicate(t *testing.T) {
	f := newOrchestratorFixture(t)
	req := models.StartSessionRequest{
		SessionID:    "dup",
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	}
	f.start(t, req)
	_, err := f.orch.StartSession(context.Background(), req)
	if !errors.Is(err, models.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestSendMessageGreetingRoutesInfo(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	})

	res, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "Hello Dr. A"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.SelectedAgent != string(models.AgentInfo) {
		t.Errorf("SelectedAgent = %q, want %q", res.SelectedAgent, models.AgentInfo)
	}
	if res.Reply != f.gen.reply {
		t.Errorf("Reply = %q, want %q", res.Reply, f.gen.reply)
	}

	sess, _ := f.store.GetSession(id)
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 turns committed, got %d", len(sess.History))
	}
	if sess.History[0].Speaker != models.SpeakerPatient || sess.History[1].Speaker != models.SpeakerAgent {
		t.Errorf("unexpected turn speakers: %s, %s", sess.History[0].Speaker, sess.History[1].Speaker)
	}
}

func TestSendMessageBookedAppointmentRoutesSymptom(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "14m", Gender: "male", VisitType: "vaccination"},
		Appointments: []models.AppointmentRecord{appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour))},
	})

	res, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "here for shots"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.SelectedAgent != string(models.AgentSymptom) {
		t.Errorf("SelectedAgent = %q, want %q", res.SelectedAgent, models.AgentSymptom)
	}

	// Classification ran once and cached the resolved script.
	sess, _ := f.store.GetSession(id)
	if sess.CachedScript == nil {
		t.Fatal("expected symptom script to be cached")
	}
	if sess.CachedScript.Key != "builtin_apology" {
		t.Errorf("empty catalog should resolve to apology script, got %q", sess.CachedScript.Key)
	}
}

func TestSendMessageSymptomClassifiesOnce(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years", ChiefComplaint: "fever"},
		Appointments: []models.AppointmentRecord{appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour))},
	})

	for _, text := range []string{"my child has a fever", "it started yesterday", "no other symptoms"} {
		if _, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: text}); err != nil {
			t.Fatalf("SendMessage(%q) failed: %v", text, err)
		}
	}
	if f.gen.labelCalls != 1 {
		t.Errorf("classifier invoked %d times, want exactly 1", f.gen.labelCalls)
	}
}

func TestSendMessageEpisodeCheckFlowYes(t *testing.T) {
	f := newOrchestratorFixture(t)
	completed := appt("Dr. A", models.AppointmentCompleted, f.clock.Now().Add(-30*24*time.Hour))
	completed.EpisodeSummary = "ear infection"
	completed.Prescription = "amoxicillin 250mg"
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
		Appointments: []models.AppointmentRecord{
			appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour)),
			completed,
		},
	})

	res, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "ear hurts again"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.SelectedAgent != "" {
		t.Errorf("no agent should be selected on the episode-question turn, got %q", res.SelectedAgent)
	}
	if res.Reply == "" || res.Reply == f.gen.reply {
		t.Errorf("expected the episode question as reply, got %q", res.Reply)
	}
	if f.gen.generateCalls != 0 {
		t.Errorf("no generation should run on the episode-question turn, got %d calls", f.gen.generateCalls)
	}

	// Both the patient message and the question committed atomically.
	sess, _ := f.store.GetSession(id)
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 turns after episode question, got %d", len(sess.History))
	}
	if sess.RoutingState != models.RoutingAwaitingEpisodeAnswer || !sess.EpisodeCheckUsed {
		t.Fatalf("state=%s used=%t, want awaiting + single shot consumed", sess.RoutingState, sess.EpisodeCheckUsed)
	}

	res, err = f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "yes"})
	if err != nil {
		t.Fatalf("SendMessage answer failed: %v", err)
	}
	if res.SelectedAgent != string(models.AgentSymptom) {
		t.Errorf("SelectedAgent = %q, want %q", res.SelectedAgent, models.AgentSymptom)
	}
	sess, _ = f.store.GetSession(id)
	if sess.CarriedPrescription != "amoxicillin 250mg" || sess.CarriedEpisodeSummary != "ear infection" {
		t.Errorf("expected carried context, got prescription=%q summary=%q", sess.CarriedPrescription, sess.CarriedEpisodeSummary)
	}
}

func TestSendMessageEpisodeCheckFlowNo(t *testing.T) {
	f := newOrchestratorFixture(t)
	completed := appt("Dr. A", models.AppointmentCompleted, f.clock.Now().Add(-30*24*time.Hour))
	completed.Prescription = "amoxicillin 250mg"
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
		Appointments: []models.AppointmentRecord{
			appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour)),
			completed,
		},
	})

	if _, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "not feeling well"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if _, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "no"}); err != nil {
		t.Fatalf("SendMessage answer failed: %v", err)
	}

	sess, _ := f.store.GetSession(id)
	if sess.CarriedPrescription != "" {
		t.Errorf("a 'no' answer must not carry the prior prescription, got %q", sess.CarriedPrescription)
	}
	if sess.ActiveAgent != models.AgentSymptom {
		t.Errorf("ActiveAgent = %q, want %q", sess.ActiveAgent, models.AgentSymptom)
	}
}

func TestSendMessageStickyRouting(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	})

	if _, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "Hello Dr. A"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	// Later turns carry appointment snapshots that would route differently,
	// but the session stays with its agent.
	res, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{
		SessionID:    id,
		Text:         "my child now has a rash",
		Appointments: []models.AppointmentRecord{appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour))},
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.SelectedAgent != "" {
		t.Errorf("sticky turn should not re-select an agent, got %q", res.SelectedAgent)
	}
	sess, _ := f.store.GetSession(id)
	if sess.ActiveAgent != models.AgentInfo {
		t.Errorf("ActiveAgent = %q, want sticky %q", sess.ActiveAgent, models.AgentInfo)
	}
}

func TestSendMessageGenerationFailureCommitsNothing(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	})

	f.gen.err = errors.New("upstream unavailable")
	_, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "Hello Dr. A"})
	if !errors.Is(err, models.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}

	sess, _ := f.store.GetSession(id)
	if len(sess.History) != 0 {
		t.Fatalf("failed turn must commit nothing, got %d turns", len(sess.History))
	}

	// The same turn succeeds on retry once generation recovers.
	f.gen.err = nil
	res, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "Hello Dr. A"})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.Reply != f.gen.reply {
		t.Errorf("Reply = %q, want %q", res.Reply, f.gen.reply)
	}
}

func TestSendMessageUnknownSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: "nope", Text: "hi"})
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSendMessageExpiredSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "3 years"},
	})
	f.clock.Advance(16 * time.Minute)

	_, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "hi"})
	if !errors.Is(err, models.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newOrchestratorFixture(t)
	_, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: "s1"})
	if !errors.Is(err, models.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	_, err = f.orch.SendMessage(context.Background(), models.SendMessageRequest{Text: "hi"})
	if !errors.Is(err, models.ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestSendMessageUsesCatalogScript(t *testing.T) {
	f := newOrchestratorFixture(t)
	if err := f.store.SaveScript(models.Script{Key: "12m", Body: "Questions for the {age} visit with {doctor}."}); err != nil {
		t.Fatalf("SaveScript failed: %v", err)
	}
	id := f.start(t, models.StartSessionRequest{
		DoctorID:     "Dr. A",
		Demographics: models.Demographics{Age: "14m", Gender: "male", VisitType: "vaccination"},
		Appointments: []models.AppointmentRecord{appt("Dr. A", models.AppointmentBooked, f.clock.Now().Add(10*time.Hour))},
	})

	if _, err := f.orch.SendMessage(context.Background(), models.SendMessageRequest{SessionID: id, Text: "vaccine visit"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	sess, _ := f.store.GetSession(id)
	if sess.CachedScript == nil || sess.CachedScript.Key != "12m" {
		t.Fatalf("expected cached 12m script, got %+v", sess.CachedScript)
	}
}
