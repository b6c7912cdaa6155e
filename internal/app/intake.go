package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"bluepeak/internal/notify"
)

// intake receives the public marketing-site forms (contact and quote
// request) and feeds the admin notification counts.
type intake struct {
	log    *slog.Logger
	counts notify.Store
}

type contactSubmission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type quoteSubmission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Budget  string `json:"budget,omitempty"`
	Details string `json:"details"`
}

func (in *intake) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/contact", in.handleContact)
	mux.HandleFunc("/api/quote", in.handleQuote)
}

func (in *intake) handleContact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sub contactSubmission
	if !in.decode(w, r, &sub) {
		return
	}
	if strings.TrimSpace(sub.Name) == "" || strings.TrimSpace(sub.Message) == "" || !validEmail(sub.Email) {
		in.writeError(w, http.StatusBadRequest, "name, email, and message are required")
		return
	}

	in.log.Info("intake.contact", "email", sub.Email, "name", sub.Name)
	if err := in.counts.Increment(r.Context(), notify.CategoryContacts, 1); err != nil {
		in.log.Error("intake.contact.count_fail", "err", err)
	}
	in.accepted(w)
}

func (in *intake) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sub quoteSubmission
	if !in.decode(w, r, &sub) {
		return
	}
	if strings.TrimSpace(sub.Details) == "" || !validEmail(sub.Email) {
		in.writeError(w, http.StatusBadRequest, "email and project details are required")
		return
	}

	in.log.Info("intake.quote", "email", sub.Email, "company", sub.Company, "budget", sub.Budget)
	if err := in.counts.Increment(r.Context(), notify.CategoryQuotes, 1); err != nil {
		in.log.Error("intake.quote.count_fail", "err", err)
	}
	in.accepted(w)
}

func (in *intake) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	if err := dec.Decode(dst); err != nil {
		in.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (in *intake) accepted(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (in *intake) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	return err == nil && addr.Address == strings.TrimSpace(s)
}
