package config

import (
	"strings"
	"time"
)

const (
	apiBaseURLVar        = "API_BASE_URL"
	patientAPIBaseURLVar = "PATIENT_API_BASE_URL"
	httpTimeoutVar       = "HTTP_TIMEOUT"
)

type HTTPConfig interface {
	GetAPIBaseURL() string
	GetPatientAPIBaseURL() string
	GetHTTPTimeout() time.Duration
}

type HTTP struct {
	file *FileSettings
}

var _ HTTPConfig = HTTP{}

// GetAPIBaseURL returns the staff API base URL without a trailing slash
func (h HTTP) GetAPIBaseURL() string {
	return strings.TrimRight(lookup(apiBaseURLVar, h.file.API.BaseURL, "http://localhost:3001/api"), "/")
}

// GetPatientAPIBaseURL defaults to the staff API base URL, the patient
// endpoints are normally served by the same backend under /patient.
func (h HTTP) GetPatientAPIBaseURL() string {
	return strings.TrimRight(lookup(patientAPIBaseURLVar, h.file.API.PatientBaseURL, h.GetAPIBaseURL()), "/")
}

// GetHTTPTimeout is applied to the underlying http.Client. Zero disables it.
func (h HTTP) GetHTTPTimeout() time.Duration {
	d, err := time.ParseDuration(lookup(httpTimeoutVar, h.file.API.Timeout, "30s"))
	if err != nil {
		return 30 * time.Second
	}
	return d
}
