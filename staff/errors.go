package staff

import ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"

var (
	ErrInvalidCredentials = ierrors.ErrInvalidCredentials
	ErrNotAuthenticated   = ierrors.ErrNotAuthenticated
	ErrSessionExpired     = ierrors.ErrSessionExpired
	ErrTransientNetwork   = ierrors.ErrTransientNetwork
	ErrMalformedResponse  = ierrors.ErrMalformedResponse
)
