package server

import (
	"errors"
	"io"
	"net/http"

	"zettler/services/library/internal/app"
)

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, id *app.Identity) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.checkoutLimiter, id.UID, "too many checkout attempts") {
		return
	}
	url, err := s.app.Checkout(r.Context(), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// handleWebhook reads the raw body; the signature covers its exact bytes.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.audit(r, "library.webhook.verify", "fail", "reason", "body_too_large")
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No body")
		return
	}
	if err := s.app.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if app.KindOf(err) == app.KindValidation {
			s.audit(r, "library.webhook.verify", "fail")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "library.webhook.verify", "success")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
