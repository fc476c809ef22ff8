package patient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FlexibleID accepts either a JSON number or a JSON string. The upstream
// service emits numeric ids while callers usually send strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("patient: id must be a string or number: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

// ReferredProvider is a referral on the patient's chart. Either field may be missing.
type ReferredProvider struct {
	Provider  string `json:"provider,omitempty"`
	Specialty string `json:"specialty,omitempty"`
}

// Appointment is one historical visit. Status is free text from the upstream
// system (completed, noshow, cancelled, ...).
type Appointment struct {
	Date     string `json:"date,omitempty"`
	Time     string `json:"time,omitempty"`
	Provider string `json:"provider,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Record is the patient dataset returned by the upstream patient service.
// Treat it as read-only once fetched.
type Record struct {
	ID                FlexibleID         `json:"id"`
	Name              string             `json:"name,omitempty"`
	DOB               string             `json:"dob,omitempty"`
	PCP               string             `json:"pcp,omitempty"`
	EHRID             string             `json:"ehrId,omitempty"`
	ReferredProviders []ReferredProvider `json:"referred_providers,omitempty"`
	Appointments      []Appointment      `json:"appointments,omitempty"`
}

// DisplayName returns the patient's name or fallback when it is missing.
func (r *Record) DisplayName(fallback string) string {
	if r == nil || strings.TrimSpace(r.Name) == "" {
		return fallback
	}
	return r.Name
}

func orUnknown(value, placeholder string) string {
	if strings.TrimSpace(value) == "" {
		return placeholder
	}
	return value
}

// ProviderLabel renders the provider name, or placeholder when absent.
func (p ReferredProvider) ProviderLabel(placeholder string) string {
	return orUnknown(p.Provider, placeholder)
}

// SpecialtyLabel renders the specialty, or placeholder when absent.
func (p ReferredProvider) SpecialtyLabel(placeholder string) string {
	return orUnknown(p.Specialty, placeholder)
}

// Line renders "date at time with provider - status", substituting Unknown for gaps.
func (a Appointment) Line() string {
	return fmt.Sprintf("%s at %s with %s - Status: %s",
		orUnknown(a.Date, "Unknown"),
		orUnknown(a.Time, "Unknown"),
		orUnknown(a.Provider, "Unknown"),
		orUnknown(a.Status, "Unknown"),
	)
}
