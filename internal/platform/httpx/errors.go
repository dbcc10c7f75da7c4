// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/agriops/agriledger/internal/ledger/fault"
)

// Sentinel errors for the transport layer.
var (
	ErrBadRequest = fault.New(fault.KindValidation, "malformed request")
	ErrNoTenant   = fault.New(fault.KindValidation, "X-Tenant-ID header required")
)

// RespondError maps ledger faults to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, fault.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, fault.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", err.Error())
	case errors.Is(err, fault.ErrIntegrity):
		Problem(w, http.StatusInternalServerError, "Integrity Fault", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
