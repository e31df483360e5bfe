package fakebackend

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/pquerna/otp/totp"
)

type requestOTPRequest struct {
	Phone    string `json:"phone"`
	ClinicID string `json:"clinicId"`
}

type verifyOTPRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	ClinicID string `json:"clinicId"`
}

type verifyOTPResponse struct {
	SessionToken string              `json:"sessionToken"`
	Patient      credentials.Patient `json:"patient"`
}

func (b *Backend) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.ClinicID == "" {
		writeError(w, http.StatusBadRequest, "phone and clinicId are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	account, ok := b.patients[patientKey(req.Phone, req.ClinicID)]
	if !ok {
		writeError(w, http.StatusNotFound, "No patient with this phone number at this clinic")
		return
	}

	now := b.nowTime()
	if b.otpCooldown > 0 && !account.lastOTPRequest.IsZero() && now.Sub(account.lastOTPRequest) < b.otpCooldown {
		writeError(w, http.StatusTooManyRequests, "Please wait before requesting another code")
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: otpIssuer, AccountName: req.Phone})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create passcode")
		return
	}
	account.otpSecret = key.Secret()
	account.lastOTPRequest = now

	if b.sendSMS != nil {
		if code, err := totp.GenerateCode(account.otpSecret, now); err == nil {
			b.sendSMS(req.Phone, code)
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"expiresIn": otpValidity})
}

func (b *Backend) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := patientKey(req.Phone, req.ClinicID)
	account, ok := b.patients[key]
	if !ok || account.otpSecret == "" || !totp.Validate(req.Code, account.otpSecret) {
		writeError(w, http.StatusUnauthorized, "Invalid or expired code")
		return
	}
	// A passcode is single use
	account.otpSecret = ""

	token := uuid.New().String()
	b.sessions[token] = key
	writeJSON(w, http.StatusOK, verifyOTPResponse{SessionToken: token, Patient: account.patient})
}

func (b *Backend) handlePatientLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	delete(b.sessions, transport.BearerToken(r))
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handlePatientEcho(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	key, ok := b.sessions[transport.BearerToken(r)]
	var patient credentials.Patient
	if ok {
		patient = b.patients[key].patient
	}
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "Session expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"patientId": patient.PatientID})
}

// handleStatus answers with the status code in the path regardless of credentials
func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		writeError(w, http.StatusBadRequest, "invalid status code")
		return
	}
	writeJSON(w, code, map[string]int{"status": code})
}
