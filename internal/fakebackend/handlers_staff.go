package fakebackend

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"golang.org/x/crypto/bcrypt"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *credentials.User `json:"user,omitempty"`
}

func (b *Backend) handleStaffLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	b.mu.Lock()
	account, ok := b.staff[req.Email]
	b.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(account.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	access, refresh, err := b.issuePair(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	user := account.user
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: access, RefreshToken: refresh, User: &user})
}

func (b *Backend) handleStaffLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	if jti, ok := b.accessJTI(transport.BearerToken(r)); ok {
		delete(b.accessTokens, jti)
	}
	delete(b.refreshTokens, req.RefreshToken)
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleStaffMe(w http.ResponseWriter, r *http.Request) {
	account, ok := b.authenticateStaff(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Token expired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": account.user})
}

func (b *Backend) handleStaffRefresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	delay, failStatus := b.refreshDelay, b.refreshStatus
	b.mu.Unlock()

	time.Sleep(delay)
	if failStatus != 0 {
		writeError(w, failStatus, "Refresh token rejected")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	b.mu.Lock()
	email, ok := b.refreshTokens[req.RefreshToken]
	if ok {
		// Rotation: a refresh token is good for one exchange
		delete(b.refreshTokens, req.RefreshToken)
	}
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, refresh, err := b.issuePair(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

// handleStaffEcho answers any method for a valid staff token, echoing the
// request body and the token's subject
func (b *Backend) handleStaffEcho(w http.ResponseWriter, r *http.Request) {
	account, ok := b.authenticateStaff(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]string{
		"subject": account.user.Email,
		"token":   transport.BearerToken(r),
		"body":    string(body),
	})
}

func (b *Backend) issuePair(email string) (access, refresh string, err error) {
	now := b.nowTime()
	jti := uuid.New().String()

	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:        jti,
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(b.accessTTL)),
	}).SignedString(b.signingKey)
	if err != nil {
		return "", "", err
	}
	refresh = uuid.New().String()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTokens[jti] = email
	b.refreshTokens[refresh] = email
	return access, refresh, nil
}

func (b *Backend) authenticateStaff(r *http.Request) (*staffAccount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	jti, ok := b.accessJTI(transport.BearerToken(r))
	if !ok {
		return nil, false
	}
	email, ok := b.accessTokens[jti]
	if !ok {
		return nil, false
	}
	account, ok := b.staff[email]
	return account, ok
}

// accessJTI verifies rawToken and returns its jti. Callers hold b.mu.
func (b *Backend) accessJTI(rawToken string) (string, bool) {
	if rawToken == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(*jwt.Token) (interface{}, error) {
		return b.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.nowTime))
	if err != nil {
		return "", false
	}
	return claims.ID, true
}
