package server

import (
	"net/http"
	"time"

	"github.com/me/testfleet/pkg/model"
)

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Targets  int    `json:"targets"`
	Occupied int    `json:"occupied"`
	Auth     bool   `json:"auth"`
}

// handleHealth reports the lock table at a glance. A store that cannot be
// read makes the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.SearchTargets(r.Context(), model.TargetQuery{})
	if err != nil {
		s.logger.Error("health: read targets", "error", err)
		fail(w, r, &model.APIError{Code: model.ErrInternal, Message: "lock store unavailable"})
		return
	}
	resp := healthResponse{
		Status:  "healthy",
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Targets: len(recs),
		Auth:    s.keys.IsEnabled(),
	}
	for _, rec := range recs {
		if rec.State() == model.TargetStateOccupied {
			resp.Occupied++
		}
	}
	reply(w, r, http.StatusOK, resp)
}
