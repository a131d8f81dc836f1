package api

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Kind is the machine-readable failure class carried in error responses.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindValidation     Kind = "validation"
	KindOwnership      Kind = "ownership"
	KindIntegrity      Kind = "integrity"
	KindProvisioning   Kind = "provisioning"
	KindNotSupported   Kind = "not_supported"
	KindInternal       Kind = "internal"
)

func statusForKind(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindOwnership:
		return http.StatusForbidden
	case KindIntegrity:
		return http.StatusBadGateway
	case KindProvisioning:
		return http.StatusBadGateway
	case KindNotSupported:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure renders an unexpected error as the {"error": kind,
// "message": ...} envelope. Store-level sentinels are mapped; anything else
// becomes internal without detail leakage.
func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondKind(w, KindNotFound, "deployment not found")
	case errors.Is(err, ErrConflict):
		respondKind(w, KindConflict, "deployment id already exists")
	default:
		log.Error().Err(err).Msg("request failed")
		respondKind(w, KindInternal, "internal error")
	}
}

func respondKind(w http.ResponseWriter, kind Kind, message string) {
	respondJSON(w, statusForKind(kind), map[string]any{
		"error":   string(kind),
		"message": message,
	})
}
