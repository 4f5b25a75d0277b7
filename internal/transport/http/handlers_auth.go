package httptransport

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"idbroker/internal/account"
	"idbroker/internal/federation"
	domainerrors "idbroker/pkg/domain-errors"
)

func populationFromPath(r *http.Request) (account.UserType, account.UserStructure) {
	t := account.UserType(strings.ToUpper(chi.URLParam(r, "type")))
	s := account.UserStructure(strings.ToUpper(chi.URLParam(r, "structure")))
	return t, s
}

func (h *handler) lookupClient(w http.ResponseWriter, r *http.Request) *federation.Client {
	t, s := populationFromPath(r)
	client, err := h.deps.Registry.Lookup(t, s)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "fournisseur inconnu"})
		return nil
	}
	return client
}

// connect redirects the browser to the upstream authorization endpoint for
// its population. The interaction id comes from the engine's suspended
// transaction, passed along by the front as the interaction query parameter.
func (h *handler) connect(w http.ResponseWriter, r *http.Request) {
	client := h.lookupClient(w, r)
	if client == nil {
		return
	}
	interactionID := r.URL.Query().Get("interaction")
	if interactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "interaction manquante"})
		return
	}
	target, err := client.AuthorizationURL(interactionID, r.URL.Query().Get("state"))
	if err != nil {
		h.redirectFailure(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	client := h.lookupClient(w, r)
	if client == nil {
		return
	}
	if err := client.Callback(w, r); err != nil {
		h.redirectFailure(w, r, err)
	}
}

// logout redirects to the upstream front-channel logout when the provider has
// one, otherwise answers 204.
func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	t, s := populationFromPath(r)
	target := h.deps.Router.LogoutURL(t, s)
	if target == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// redirectFailure sends the browser to the front-end error page with the
// failure reason and the population it concerns, or degrades to a JSON error
// when no page is configured.
func (h *handler) redirectFailure(w http.ResponseWriter, r *http.Request, err error) {
	t, s := populationFromPath(r)
	reason := failureReason(err)

	if h.deps.ErrorPageURL == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":                "echec_authentification",
			"reason":               reason,
			"typeUtilisateur":      string(t),
			"structureUtilisateur": string(s),
		})
		return
	}

	q := url.Values{}
	q.Set("reason", reason)
	q.Set("typeUtilisateur", string(t))
	q.Set("structureUtilisateur", string(s))
	var nonTraitable *domainerrors.NonTraitableError
	if errors.As(err, &nonTraitable) {
		q.Set("message", nonTraitable.Message())
	}
	http.Redirect(w, r, h.deps.ErrorPageURL+"?"+q.Encode(), http.StatusFound)
}

func failureReason(err error) string {
	var nonTraitable *domainerrors.NonTraitableError
	if errors.As(err, &nonTraitable) {
		return string(nonTraitable.Reason)
	}
	var authErr *domainerrors.AuthError
	if errors.As(err, &authErr) {
		return authErr.Stage
	}
	return "ERREUR_INCONNUE"
}
