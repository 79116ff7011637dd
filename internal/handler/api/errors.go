package api

import (
	"errors"
	"net/http"

	domrepo "IntelWatch/internal/domain/repository"
	xhttp "IntelWatch/pkg/http"
)

// appError maps domain sentinels to their HTTP form. Anything else is left
// for AppErrorResponse to report as a 500.
func appError(err error) error {
	switch {
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NewAppError("ERR_NOT_FOUND", "", "resource not found", http.StatusNotFound).WithError(err)
	case errors.Is(err, domrepo.ErrDuplicateActive):
		return xhttp.NewAppError("ERR_DUPLICATE_ACTIVE", "subject", "an active monitor already exists for this subject", http.StatusConflict).WithError(err)
	case errors.Is(err, domrepo.ErrInvalidTransition):
		return xhttp.NewAppError("ERR_INVALID_TRANSITION", "status", "status change not allowed", http.StatusConflict).WithError(err)
	case errors.Is(err, domrepo.ErrInvalidConfig):
		return xhttp.NewAppError("ERR_INVALID_CONFIG", "", err.Error(), http.StatusBadRequest).WithError(err)
	}
	return err
}
