package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"xnoded/pkg/psk"
)

// sessionHeader carries the operator session token on operator endpoints and
// the hex HMAC digest on device endpoints.
const sessionHeader = "X-Parse-Session-Token"

// authenticateOperator resolves the session header to an operator account.
func (a *API) authenticateOperator(w http.ResponseWriter, r *http.Request) (Operator, bool) {
	token := strings.TrimSpace(r.Header.Get(sessionHeader))
	if token == "" {
		respondKind(w, KindAuthentication, "missing session token")
		return Operator{}, false
	}

	op, err := a.store.Sessions.Verify(r.Context(), token)
	if err != nil {
		respondKind(w, KindAuthentication, "invalid session token")
		return Operator{}, false
	}
	return op, true
}

// authenticateDevice verifies a device-originated request: the body names the
// claimed device id, the session-shaped header carries HMAC(accessToken, body)
// over the exact bytes received. The raw body is returned for decoding and
// verbatim storage. On failure a response has already been written.
func (a *API) authenticateDevice(w http.ResponseWriter, r *http.Request) (Deployment, []byte, bool) {
	body, err := readBody(r)
	if err != nil {
		respondKind(w, KindValidation, "unreadable request body")
		return Deployment{}, nil, false
	}

	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.ID == "" {
		respondKind(w, KindValidation, "request body must carry a device id")
		return Deployment{}, nil, false
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	dep, err := a.store.Registry.Get(ctx, probe.ID)
	if errors.Is(err, ErrNotFound) {
		respondKind(w, KindNotFound, "unknown device id")
		return Deployment{}, nil, false
	}
	if err != nil {
		respondFailure(w, err)
		return Deployment{}, nil, false
	}

	claimedMAC := strings.TrimSpace(r.Header.Get(sessionHeader))
	if !psk.VerifyMAC(dep.AccessToken, string(body), claimedMAC) {
		deviceAuthFailuresTotal.Inc()
		respondKind(w, KindAuthentication, "device authentication failed")
		return Deployment{}, nil, false
	}

	return dep, body, true
}
