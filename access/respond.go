package access

import (
	"encoding/json"
	"net/http"
)

// WriteDenial renders a denied Decision: a redirect when RedirectURL is set,
// an HTML page when HTML is set, otherwise a JSON error body.
func WriteDenial(w http.ResponseWriter, r *http.Request, d Decision) {
	switch {
	case d.RedirectURL != "":
		http.Redirect(w, r, d.RedirectURL, http.StatusFound)
	case d.HTML != "":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(d.Status)
		_, _ = w.Write([]byte(d.HTML))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(d.Status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": d.Message})
	}
}
