package patient

import ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"

var (
	ErrInvalidOTP        = ierrors.ErrInvalidOTP
	ErrRateLimited       = ierrors.ErrRateLimited
	ErrTransientNetwork  = ierrors.ErrTransientNetwork
	ErrMalformedResponse = ierrors.ErrMalformedResponse
)
