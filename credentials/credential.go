// Package credentials holds the persisted session records for the staff and
// patient schemes and the stores that keep them. The two schemes live in
// separate namespaces and never share a record type.
package credentials

import "time"

// Role is a staff user's role within the clinic platform
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"  // Manages every clinic
	RoleClinicAdmin Role = "clinic_admin" // Manages users and settings of one clinic
	RoleClinicUser  Role = "clinic_user"  // Regular clinic staff
)

// Record is implemented by every credential kind. Stores treat an incomplete
// record as absent.
type Record interface {
	Complete() bool
}

// User is the cached staff profile
type User struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	ClinicID   string `json:"clinicId,omitempty"`
	ClinicName string `json:"clinicName,omitempty"`
}

// IsSuperAdmin returns true if the user manages the whole platform
func (u User) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// IsClinicAdmin returns true if the user administers their clinic
func (u User) IsClinicAdmin() bool {
	return u.Role == RoleClinicAdmin
}

// HasClinic reports whether the user can act on clinicID. Super admins can
// act on any clinic.
func (u User) HasClinic(clinicID string) bool {
	if u.IsSuperAdmin() {
		return true
	}
	return u.ClinicID != "" && u.ClinicID == clinicID
}

// StaffCredential is the JWT access/refresh pair plus the cached user.
// The two tokens are always stored and cleared together.
type StaffCredential struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

var _ Record = StaffCredential{}

func (c StaffCredential) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// AccessExpiry returns the exp claim of the access token, if it carries one
func (c StaffCredential) AccessExpiry() (time.Time, bool) {
	claims, err := ParseAccessClaims(c.AccessToken)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

// Patient is the cached patient profile
type Patient struct {
	ID         string `json:"id"`
	PatientID  string `json:"patientId"`
	Name       string `json:"name"`
	ClinicID   string `json:"clinicId"`
	ClinicName string `json:"clinicName"`
}

// PatientCredential is the opaque OTP session token. It has no refresh
// companion, an expired token means the patient must verify a new OTP.
type PatientCredential struct {
	SessionToken string  `json:"sessionToken"`
	Patient      Patient `json:"patient"`
}

var _ Record = PatientCredential{}

func (c PatientCredential) Complete() bool {
	return c.SessionToken != ""
}
