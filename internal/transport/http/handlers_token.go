package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"idbroker/internal/op"
)

// token is the token endpoint for custom grants. Standard OIDC grants are
// served by the engine itself; this route only dispatches the grant types
// registered with the registry.
func (h *handler) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeProtocolError(w, op.NewInvalidRequest("corps de requête illisible"))
		return
	}

	clientID, _, ok := r.BasicAuth()
	if !ok {
		clientID = r.PostForm.Get("client_id")
	}

	req := &op.TokenRequest{
		GrantType: r.PostForm.Get("grant_type"),
		ClientID:  clientID,
		Form:      r.PostForm,
	}
	resp, err := h.deps.Grants.Handle(r.Context(), req)
	if err != nil {
		var protoErr *op.ProtocolError
		if errors.As(err, &protoErr) {
			writeProtocolError(w, protoErr)
			return
		}
		h.deps.Logger.Error("échec du endpoint token", "grant_type", req.GrantType, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeProtocolError(w http.ResponseWriter, err *op.ProtocolError) {
	body := map[string]string{"error": err.Code}
	if err.Description != "" {
		body["error_description"] = err.Description
	}
	writeJSON(w, err.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
