package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/testfleet/pkg/model"
)

// maxBody bounds request documents. Lock records are a few hundred bytes.
const maxBody = 1 << 20

// reply writes data inside the envelope, tagged with the request's id.
func reply(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeEnvelope(w, r, status, model.Response{Status: "ok", Data: data})
}

// fail writes apiErr inside the envelope with the status its code maps to.
func fail(w http.ResponseWriter, r *http.Request, apiErr *model.APIError) {
	writeEnvelope(w, r, apiErr.Status(), model.Response{Status: "error", Error: apiErr})
}

func internalError(w http.ResponseWriter, r *http.Request, op string) {
	fail(w, r, &model.APIError{
		Code:    model.ErrInternal,
		Message: op + " failed",
	})
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, env model.Response) {
	env.RequestID = middleware.GetReqID(r.Context())
	env.Timestamp = time.Now().UTC()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// decode reads the JSON body into v. On failure it answers 400 and
// returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		fail(w, r, model.NewValidationError("invalid JSON: "+err.Error()))
		return false
	}
	return true
}
