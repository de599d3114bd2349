package server

import (
	"errors"
	"net/http"

	"github.com/me/testfleet/internal/store"
	"github.com/me/testfleet/pkg/model"
)

// projectable lists the record fields a search projection may name.
var projectable = map[string]bool{
	"id": true, "occupied": true, "holder": true, "updated_at": true,
}

func (s *Server) handleSearchTargets(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if !decode(w, r, &req) {
		return
	}
	for _, f := range req.Projection {
		if !projectable[f] {
			fail(w, r, model.NewValidationError("invalid projection",
				model.FieldError{Field: "projection", Message: "unknown field " + f}))
			return
		}
	}

	recs, err := s.store.SearchTargets(r.Context(), req.Query)
	if err != nil {
		s.logger.Error("search targets", "error", err)
		s.metrics.requests.WithLabelValues("search", "error").Inc()
		internalError(w, r, "search")
		return
	}
	s.metrics.requests.WithLabelValues("search", "ok").Inc()

	if recs == nil {
		recs = []*model.TargetRecord{}
	}
	if len(req.Projection) == 0 {
		reply(w, r, http.StatusOK, recs)
		return
	}
	reply(w, r, http.StatusOK, project(recs, req.Projection))
}

// project keeps only the named fields of each record.
func project(recs []*model.TargetRecord, fields model.Projection) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		m := make(map[string]any, len(fields))
		for _, f := range fields {
			switch f {
			case "id":
				m[f] = rec.ID
			case "occupied":
				m[f] = rec.Occupied
			case "holder":
				m[f] = rec.Holder
			case "updated_at":
				m[f] = rec.UpdatedAt
			}
		}
		out = append(out, m)
	}
	return out
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	rec := req.Record
	if rec.ID == "" {
		fail(w, r, model.NewValidationError("invalid record",
			model.FieldError{Field: "record.id", Message: "required"}))
		return
	}
	if rec.Occupied != (rec.Holder != "") {
		fail(w, r, model.NewValidationError("invalid record",
			model.FieldError{Field: "record.holder", Message: "holder must be set exactly when occupied"}))
		return
	}

	if err := s.store.CreateTarget(r.Context(), &rec); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.metrics.requests.WithLabelValues("create", "conflict").Inc()
			fail(w, r, model.NewConflictError("target", rec.ID))
			return
		}
		s.logger.Error("create target", "id", rec.ID, "error", err)
		s.metrics.requests.WithLabelValues("create", "error").Inc()
		internalError(w, r, "create")
		return
	}
	s.metrics.requests.WithLabelValues("create", "ok").Inc()
	s.logger.Info("target registered", "id", rec.ID, "occupied", rec.Occupied, "holder", rec.Holder)
	reply(w, r, http.StatusCreated, rec)
}

func (s *Server) handleUpdateTargets(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Filter == (model.TargetQuery{}) {
		fail(w, r, model.NewValidationError("invalid update",
			model.FieldError{Field: "filter", Message: "at least one field required"}))
		return
	}
	if req.Patch == (model.TargetPatch{}) {
		fail(w, r, model.NewValidationError("invalid update",
			model.FieldError{Field: "patch", Message: "at least one field required"}))
		return
	}

	n, err := s.store.UpdateTargets(r.Context(), req.Filter, req.Patch)
	if err != nil {
		s.logger.Error("update targets", "error", err)
		s.metrics.requests.WithLabelValues("update", "error").Inc()
		internalError(w, r, "update")
		return
	}
	result := "ok"
	if n == 0 {
		result = "no_match"
	}
	s.metrics.requests.WithLabelValues("update", result).Inc()
	reply(w, r, http.StatusOK, model.UpdateResult{Matched: n})
}
