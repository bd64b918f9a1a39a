package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/jellydator/validation"
	"github.com/org/oncesecret/internal/secret"
	"github.com/rs/zerolog"
)

type createSecretResponse struct {
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expires_at"`
}

type getSecretResponse struct {
	Value string `json:"value"`
}

// CreateSecretHandler handles POST /secret
func (s *Server) CreateSecretHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req secret.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	link, err := s.secrets.Create(r.Context(), req.Value)
	if err != nil {
		var verrs validation.Errors
		switch {
		case errors.As(err, &verrs):
			writeValidationError(w, verrs)
		case errors.Is(err, secret.ErrInvalidInput):
			writeError(w, http.StatusUnprocessableEntity, "invalid request")
		default:
			writeInternalError(w)
		}
		return
	}

	w.Header().Set("Location", link.Link)
	writeJSON(w, http.StatusCreated, createSecretResponse{
		Link:      link.Link,
		ExpiresAt: link.ExpiresAt,
	})
}

// GetSecretHandler handles GET /secret/{id}. Unknown, malformed, claimed and
// expired ids all produce the same response.
func (s *Server) GetSecretHandler(w http.ResponseWriter, r *http.Request) {
	value, err := s.secrets.Retrieve(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, getSecretResponse{Value: value})
	case errors.Is(err, secret.ErrGone):
		writeError(w, http.StatusGone, http.StatusText(http.StatusGone))
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("retrieve failed")
		writeInternalError(w)
	}
}

func writeValidationError(w http.ResponseWriter, verrs validation.Errors) {
	fields := make(map[string]string, len(verrs))
	for field, err := range verrs {
		fields[field] = err.Error()
	}
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Status:  http.StatusUnprocessableEntity,
		Message: "invalid request",
		Errors:  fields,
	})
}

func writeInternalError(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}
