// Package flow: per-agent system prompt assembly.
package flow

import (
	"fmt"
	"strings"

	"github.com/carebridge/clinicflow/internal/models"
)

// SamplePrescription is the stock prescription used by the follow-up agent
// when neither the episode check nor the snapshot supplied one.
const SamplePrescription = `Prescribed Medications:
- Loratadine 10mg: 1 tablet daily AM
- Epinephrine auto-injector: 0.3mg IM PRN
- Follow-up in 2 weeks`

// renderScript substitutes {placeholder} variables in a script body.
// Unknown placeholders are left untouched.
func renderScript(body string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}

// buildInfoSystem assembles the info agent's system prompt from its script,
// the retrieved document chunks, and the session.
func buildInfoSystem(script models.Script, chunks []string, sess *models.ConversationSession) string {
	body := renderScript(script.Body, map[string]string{
		"doctor_name": sess.DoctorID,
	})
	var b strings.Builder
	b.WriteString(body)
	if len(chunks) > 0 {
		b.WriteString("\n\nRetrieved context:\n")
		b.WriteString(strings.Join(chunks, "\n\n"))
	} else {
		b.WriteString("\n\nRetrieved context:\nNo context retrieved.")
	}
	return b.String()
}

// buildSymptomSystem assembles the symptom agent's system prompt from the
// cached script and the session demographics.
func buildSymptomSystem(script models.Script, sess *models.ConversationSession) string {
	body := renderScript(script.Body, map[string]string{
		"age":             sess.Demographics.Age,
		"gender":          sess.Demographics.Gender,
		"visit_type":      sess.Demographics.VisitType,
		"chief_complaint": sess.Demographics.ChiefComplaint,
		"doctor_name":     sess.DoctorID,
	})
	var b strings.Builder
	b.WriteString(body)
	b.WriteString(fmt.Sprintf("\n\nPatient: age %s, gender %s, visit type %s.",
		orUnknown(sess.Demographics.Age), orUnknown(sess.Demographics.Gender), orUnknown(sess.Demographics.VisitType)))
	if sess.CarriedEpisodeSummary != "" {
		b.WriteString("\nPrior episode summary: " + sess.CarriedEpisodeSummary)
	}
	if sess.CarriedPrescription != "" {
		b.WriteString("\nPrior prescription:\n" + sess.CarriedPrescription)
	}
	return b.String()
}

// buildFollowupSystem assembles the follow-up agent's system prompt from its
// script and the prescription in scope for the session.
func buildFollowupSystem(script models.Script, sess *models.ConversationSession) string {
	prescription := followupPrescription(sess)
	body := renderScript(script.Body, map[string]string{
		"prescription": prescription,
		"doctor_name":  sess.DoctorID,
	})
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\nPrescription on file:\n" + prescription)
	return b.String()
}

// followupPrescription picks the prescription for the follow-up agent:
// carried episode context first, then the snapshot's completed appointment,
// then the stock sample.
func followupPrescription(sess *models.ConversationSession) string {
	if sess.CarriedPrescription != "" {
		return sess.CarriedPrescription
	}
	if prior := matchedEpisode(sess.DoctorID, sess.Appointments); prior != nil && prior.Prescription != "" {
		return prior.Prescription
	}
	return SamplePrescription
}

// orUnknown substitutes "unknown" for empty demographic fields.
func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
