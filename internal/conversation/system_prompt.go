package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/care-coordinator-ai/internal/patient"
)

const (
	noPatientDataSentinel = "no patient data available"
	noReferenceSentinel   = "reference data unavailable"
)

const coordinatorRole = "You are a Care Coordinator Assistant helping a nurse book appointments and coordinate patient care. Your role is to guide the nurse through the appointment booking process and answer questions about providers, insurance, and scheduling."

// coordinatorInstructions is model-facing. The FORM_UPDATE marker and field
// names must stay in sync with defaultFormStrategies.
const coordinatorInstructions = `Key Responsibilities:
1. Help book appointments by gathering required information:
   - Patient first name, last name, and DOB
   - Provider/doctor for the appointment
   - Type of appointment (NEW or ESTABLISHED)
   - Location of the appointment
   - Date and time

2. Answer questions about:
   - Provider availability and alternatives
   - Insurance acceptance and costs
   - Patient history with providers
   - Appointment scheduling requirements

3. Apply hospital rules:
   - NEW appointments are 30 minutes (patient hasn't seen provider in 5+ years)
   - ESTABLISHED appointments are 15 minutes (patient seen within 5 years)
   - Appointments only during office hours
   - New patients arrive 30 minutes early, established patients 10 minutes early

4. Be helpful, professional, and guide the conversation systematically to ensure all required information is collected for successful appointment booking.

5. When you have enough information to help fill out appointment booking fields, include a JSON object at the END of your response with the format:
   FORM_UPDATE: {"field_name": "value", "field_name": "value"}

   Available form fields:
   - "doctor": Doctor name (e.g., "House, Gregory")
   - "appointment-type": "NEW" or "ESTABLISHED"
   - "appointment-location": Location name (e.g., "PPTH Orthopedics")
   - "appointment-date": Date in YYYY-MM-DD format
   - "appointment-time": Time in HH:MM format (24-hour)

   Example: "I'll help you book with Dr. House for next Tuesday at 2pm. FORM_UPDATE: {"doctor": "House, Gregory", "appointment-date": "2024-01-23", "appointment-time": "14:00"}"

Always reference the specific patient data and hospital information provided when making recommendations or answering questions.`

// BuildSystemPrompt renders the coordinator prompt for one turn. A nil record
// and an empty reference are replaced by fixed sentinels so the model is told
// the data is missing rather than receiving a blank section.
func BuildSystemPrompt(rec *patient.Record, reference string, now time.Time) string {
	var b strings.Builder
	b.WriteString(coordinatorRole)
	fmt.Fprintf(&b, "\n\nCurrent Date: %s (%s)\n\n", now.Format("2006-01-02"), now.Weekday())
	b.WriteString(FormatPatient(rec))
	b.WriteString("\n\nHospital System Information:\n")
	if strings.TrimSpace(reference) == "" {
		b.WriteString(noReferenceSentinel)
	} else {
		b.WriteString(reference)
	}
	b.WriteString("\n\n")
	b.WriteString(coordinatorInstructions)
	return b.String()
}

// FormatPatient renders the patient block of the prompt.
func FormatPatient(rec *patient.Record) string {
	if rec == nil {
		return noPatientDataSentinel
	}

	var b strings.Builder
	b.WriteString("Patient Information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", orUnknown(rec.Name))
	fmt.Fprintf(&b, "- Date of Birth: %s\n", orUnknown(rec.DOB))
	fmt.Fprintf(&b, "- Primary Care Provider: %s\n", orUnknown(rec.PCP))
	fmt.Fprintf(&b, "- EHR ID: %s\n", orUnknown(rec.EHRID))

	b.WriteString("\nReferred Providers:\n")
	for _, p := range rec.ReferredProviders {
		fmt.Fprintf(&b, "- %s (%s)\n", p.ProviderLabel("Unknown Provider"), p.SpecialtyLabel("Unknown Specialty"))
	}

	b.WriteString("\nAppointment History:\n")
	for _, apt := range rec.Appointments {
		fmt.Fprintf(&b, "- %s\n", apt.Line())
	}
	return strings.TrimSpace(b.String())
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Unknown"
	}
	return v
}
