package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"db_respawn/internal/graph"
	"db_respawn/internal/reset"
	"db_respawn/internal/storage"
	"db_respawn/internal/targets"
)

type TargetHandler struct {
	targets *targets.Set
	planDir string
	logger  requestLogger
}

func NewTargetHandler(set *targets.Set, planDir string, logger requestLogger) *TargetHandler {
	return &TargetHandler{targets: set, planDir: planDir, logger: logger}
}

type targetDTO struct {
	Name     string       `json:"name"`
	Provider string       `json:"provider"`
	Schedule string       `json:"schedule,omitempty"`
	LastRun  *targets.Run `json:"last_run,omitempty"`
}

type planDTO struct {
	Target                       string               `json:"target"`
	Provider                     string               `json:"provider"`
	ToDelete                     []graph.Table        `json:"to_delete"`
	CyclicalTables               []graph.Table        `json:"cyclical_tables"`
	CyclicalTableRelationships   []graph.Relationship `json:"cyclical_table_relationships"`
	SelfReferencingRelationships []graph.Relationship `json:"self_referencing_relationships"`
	DeleteSQL                    string               `json:"delete_sql"`
	ReseedSQL                    string               `json:"reseed_sql,omitempty"`
	Stored                       *storage.PlanRecord  `json:"stored,omitempty"`
}

func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]targetDTO, 0, len(h.targets.Names()))
	for _, t := range h.targets.All() {
		dto := targetDTO{Name: t.Name(), Provider: t.Provider(), Schedule: t.Schedule()}
		if run, ok := t.LastRun(); ok {
			dto.LastRun = &run
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

// Plan returns the target's plan. With ?store=true the plan is also written
// to the plan directory.
func (h *TargetHandler) Plan(w http.ResponseWriter, r *http.Request) {
	t, ok := h.target(w, r)
	if !ok {
		return
	}
	store, _ := strconv.ParseBool(r.URL.Query().Get("store"))
	if store && h.planDir == "" {
		writeError(w, http.StatusBadRequest, "storage_disabled", "no plan directory configured")
		return
	}

	plan, err := t.Plan(r.Context())
	if err != nil {
		h.logger.Error("build plan failed", "target", t.Name(), "error", err)
		writeResetError(w, err)
		return
	}
	dto := newPlanDTO(t.Name(), plan)
	if store {
		rec, err := storage.StorePlan(h.planDir, t.Name(), plan)
		if err != nil {
			h.logger.Error("store plan failed", "target", t.Name(), "error", err)
			writeError(w, http.StatusInternalServerError, "store_failed", "failed to store plan")
			return
		}
		dto.Stored = &rec
	}
	writeJSON(w, http.StatusOK, dto)
}

// StoredPlans lists the manifests of plans stored with ?store=true.
func (h *TargetHandler) StoredPlans(w http.ResponseWriter, r *http.Request) {
	if h.planDir == "" {
		writeJSON(w, http.StatusOK, []storage.PlanRecord{})
		return
	}
	records, err := storage.ListPlans(h.planDir)
	if err != nil {
		h.logger.Error("list stored plans failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list stored plans")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *TargetHandler) Reset(w http.ResponseWriter, r *http.Request) {
	t, ok := h.target(w, r)
	if !ok {
		return
	}
	run, err := t.Reset(r.Context())
	if err != nil {
		writeResetError(w, fmt.Errorf("run %s: %w", run.ID, err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Refresh drops the cached plan and builds a new one.
func (h *TargetHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	t, ok := h.target(w, r)
	if !ok {
		return
	}
	t.Invalidate()
	plan, err := t.Plan(r.Context())
	if err != nil {
		writeResetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanDTO(t.Name(), plan))
}

func (h *TargetHandler) target(w http.ResponseWriter, r *http.Request) (*targets.Target, bool) {
	name := chi.URLParam(r, "name")
	t, ok := h.targets.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "target not found")
		return nil, false
	}
	return t, true
}

func newPlanDTO(name string, plan *reset.Plan) planDTO {
	return planDTO{
		Target:                       name,
		Provider:                     plan.Dialect.Provider(),
		ToDelete:                     nonNil(plan.Graph.ToDelete),
		CyclicalTables:               nonNil(plan.Graph.CyclicalTables),
		CyclicalTableRelationships:   nonNil(plan.Graph.CyclicalTableRelationships),
		SelfReferencingRelationships: nonNil(plan.Graph.SelfReferencingRelationships),
		DeleteSQL:                    plan.DeleteSQL,
		ReseedSQL:                    plan.ReseedSQL,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
