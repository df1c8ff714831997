// Package testutil provides common test utilities and helpers for ClinicFlow tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/carebridge/clinicflow/internal/api"
	"github.com/carebridge/clinicflow/internal/flow"
	"github.com/carebridge/clinicflow/internal/models"
	"github.com/carebridge/clinicflow/internal/retrieval"
	"github.com/carebridge/clinicflow/internal/store"
)

// MockGenAI is a scripted Generation Service client for tests. Reply is
// returned from Generate; Label from GenerateLabel; Err, when set, fails
// both calls.
type MockGenAI struct {
	mu    sync.Mutex
	Reply string
	Label string
	Err   error

	GenerateCalls []string // system prompts seen by Generate
	LabelCalls    []string // inputs seen by GenerateLabel
}

// Generate returns the scripted reply.
func (m *MockGenAI) Generate(ctx context.Context, system string, history []models.Turn) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateCalls = append(m.GenerateCalls, system)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}

// GenerateLabel returns the scripted label.
func (m *MockGenAI) GenerateLabel(ctx context.Context, instruction, input string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelCalls = append(m.LabelCalls, input)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Label, nil
}

// NewTestOrchestrator builds an orchestrator over an in-memory store with a
// rule-based router and no semantic classifier, returning both.
func NewTestOrchestrator(client *MockGenAI) (*flow.Orchestrator, *store.InMemoryStore) {
	st := store.NewInMemoryStore()
	orch := flow.NewOrchestrator(flow.Dependencies{
		Sessions:   flow.NewSessionManager(st),
		Router:     flow.NewRuleBasedRouter(),
		Classifier: flow.NewClassifier(nil, models.DefaultClassifierConfig()),
		Selector:   flow.NewSelector(st),
		Retriever:  retrieval.NewStoreRetriever(st),
		GenAI:      client,
	})
	return orch, st
}

// NewTestServer creates a test API server with in-memory dependencies.
func NewTestServer(client *MockGenAI) (*api.Server, *store.InMemoryStore) {
	orch, st := NewTestOrchestrator(client)
	return api.NewServer(orch, st), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	if body == nil {
		return httptest.NewRequest(method, url, nil)
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest(method, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}
