package transport

// Backend route paths, relative to the API base URL
const (
	// Staff scheme
	RouteStaffLogin   = "/auth/login"
	RouteStaffLogout  = "/auth/logout"
	RouteStaffMe      = "/auth/me"
	RouteStaffRefresh = "/auth/refresh"

	// Patient scheme
	RoutePatientRequestOTP = "/patient/auth/request-otp"
	RoutePatientVerifyOTP  = "/patient/auth/verify-otp"
	RoutePatientLogout     = "/patient/auth/logout"
)
