// Package models defines API request and response types for ClinicFlow
// endpoints.
package models

import (
	"fmt"
	"strings"
)

// APIStatus represents the status field of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful API call.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API call.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// StartSessionRequest is the payload of POST /sessions.
type StartSessionRequest struct {
	// SessionID is optional; the server generates one when absent.
	SessionID    string              `json:"session_id,omitempty"`
	DoctorID     string              `json:"doctor_id"`
	Demographics Demographics        `json:"demographics"`
	Appointments []AppointmentRecord `json:"appointments,omitempty"`
}

// Validate checks the start-session payload for required fields.
func (r StartSessionRequest) Validate() error {
	if strings.TrimSpace(r.DoctorID) == "" {
		return fmt.Errorf("%w: doctor_id is required", ErrMissingFields)
	}
	if strings.TrimSpace(r.Demographics.Age) == "" && strings.TrimSpace(r.Demographics.ChiefComplaint) == "" {
		return fmt.Errorf("%w: demographics must include age or chief_complaint", ErrMissingFields)
	}
	return nil
}

// StartSessionResult is the success payload of POST /sessions.
type StartSessionResult struct {
	SessionID string `json:"session_id"`
}

// SendMessageRequest is the payload of POST /messages.
type SendMessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	// Appointments optionally refreshes the session's appointment snapshot
	// before routing. A nil slice leaves the stored snapshot untouched.
	Appointments []AppointmentRecord `json:"appointments,omitempty"`
	// PrescriptionOverride replaces the carried prescription for this
	// session when non-empty.
	PrescriptionOverride string `json:"prescription_override,omitempty"`
}

// Validate checks the send-message payload for required fields.
func (r SendMessageRequest) Validate() error {
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrMissingFields)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: text is required", ErrMissingFields)
	}
	return nil
}

// SendMessageResult is the success payload of POST /messages. SelectedAgent
// is populated on the turn where routing selects an agent.
type SendMessageResult struct {
	Reply         string `json:"reply"`
	SelectedAgent string `json:"selected_agent,omitempty"`
}

// UpsertScriptRequest is the payload of PUT /scripts.
type UpsertScriptRequest struct {
	Key  CategoryKey `json:"key"`
	Body string      `json:"body"`
}

// Validate checks the script upsert payload for required fields.
func (r UpsertScriptRequest) Validate() error {
	if strings.TrimSpace(string(r.Key)) == "" {
		return fmt.Errorf("%w: key is required", ErrMissingFields)
	}
	if strings.TrimSpace(r.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrMissingFields)
	}
	return nil
}
