package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/store/sqlite"
)

// =============================================================================
// TASK HANDLERS
// =============================================================================

// ListTasks returns tasks matching the query filters, counter buckets included.
// GET /api/tasks?identity_id=&is_active=&is_favorited=&is_added_to_today=&is_locked=
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := taskFilterFrom(r)
	if err != nil {
		writeError(w, "Invalid filter", err)
		return
	}

	tasks, err := h.Store.ListTasks(ctx, filter)
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}

	dtos := make([]TaskDTO, len(tasks))
	for i, t := range tasks {
		t, err = h.withDays(ctx, t)
		if err != nil {
			writeError(w, "Failed to load counter", err)
			return
		}
		dtos[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func taskFilterFrom(r *http.Request) (economy.TaskFilter, error) {
	var (
		f   economy.TaskFilter
		err error
	)
	if id := r.URL.Query().Get("identity_id"); id != "" {
		identityID := economy.IdentityID(id)
		f.IdentityID = &identityID
	}
	if f.IsActive, err = boolQuery(r, "is_active"); err != nil {
		return f, err
	}
	if f.IsFavorited, err = boolQuery(r, "is_favorited"); err != nil {
		return f, err
	}
	if f.IsAddedToToday, err = boolQuery(r, "is_added_to_today"); err != nil {
		return f, err
	}
	if f.IsLocked, err = boolQuery(r, "is_locked"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	task, err := h.Store.GetTask(ctx, economy.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, "Failed to get task", err)
		return
	}
	task, err = h.withDays(ctx, task)
	if err != nil {
		writeError(w, "Failed to load counter", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// CreateTask creates an open task. task_type COUNTER also creates its counter.
// POST /api/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}

	task := economy.Task{
		Name:           req.Name,
		IdentityID:     economy.IdentityID(req.IdentityID),
		Points:         req.Points,
		PointsType:     economy.PointsType(strings.ToUpper(req.PointsType)),
		IsActive:       true,
		IsFavorited:    req.IsFavorited,
		IsAddedToToday: req.IsAddedToToday,
		IsBacklog:      req.IsBacklog,
	}
	switch economy.TaskType(strings.ToUpper(req.TaskType)) {
	case "", economy.TaskDefault:
		task.Variant = economy.DefaultVariant{}
	case economy.TaskCounter:
		defaultPoints := req.DefaultPoints
		if defaultPoints == 0 {
			defaultPoints = req.Points
		}
		task.Variant = economy.CounterVariant{Counter: economy.CounterTask{
			Target:        req.Target,
			DefaultPoints: defaultPoints,
		}}
	default:
		writeError(w, "Invalid task type", &economy.InvalidArgumentError{
			Field:  "task_type",
			Reason: fmt.Sprintf("unknown task type %q", req.TaskType),
		})
		return
	}

	ctx := r.Context()
	created, err := h.Store.CreateTask(ctx, task)
	if err != nil {
		writeError(w, "Failed to create task", err)
		return
	}
	created, err = h.withDays(ctx, created)
	if err != nil {
		writeError(w, "Failed to load counter", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTaskDTO(created))
}

// UpdateTask applies a partial update. is_active moves through the
// completion rules after the other fields are written.
// PUT /api/tasks/{id}
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	if req.IsLocked != nil {
		writeError(w, "Locks are not writable", &economy.InvalidArgumentError{
			Field:  "is_locked",
			Reason: "tasks are locked only by redemption and unlocked only by an admin",
		})
		return
	}

	ctx := r.Context()
	id := economy.TaskID(chi.URLParam(r, "id"))

	u := sqlite.TaskUpdate{
		Name:           req.Name,
		Points:         req.Points,
		IsFavorited:    req.IsFavorited,
		IsPinned:       req.IsPinned,
		IsAddedToToday: req.IsAddedToToday,
		IsBacklog:      req.IsBacklog,
		SortValue:      req.SortValue,
	}
	if req.IdentityID != nil {
		identityID := economy.IdentityID(*req.IdentityID)
		u.IdentityID = &identityID
	}
	if req.PointsType != nil {
		pt := economy.PointsType(strings.ToUpper(*req.PointsType))
		u.PointsType = &pt
	}

	var (
		task economy.Task
		err  error
	)
	if u != (sqlite.TaskUpdate{}) {
		task, err = h.Store.UpdateTask(ctx, id, u)
		if err != nil {
			writeError(w, "Failed to update task", err)
			return
		}
	}
	if req.IsActive != nil {
		task, err = h.Completer.SetCompleted(ctx, id, !*req.IsActive)
		if err != nil {
			writeError(w, "Failed to change completion", err)
			return
		}
	}
	if task.ID == "" {
		task, err = h.Store.GetTask(ctx, id)
		if err != nil {
			writeError(w, "Failed to get task", err)
			return
		}
	}

	task, err = h.withDays(ctx, task)
	if err != nil {
		writeError(w, "Failed to load counter", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteTask(r.Context(), economy.TaskID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, "Failed to delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSort assigns sort values in the order given.
// PUT /api/tasks/update-sort
func (h *Handler) UpdateSort(w http.ResponseWriter, r *http.Request) {
	var req UpdateSortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	ids := make([]economy.TaskID, len(req.TaskIDs))
	for i, id := range req.TaskIDs {
		ids[i] = economy.TaskID(id)
	}
	if err := h.Store.UpdateSort(r.Context(), ids); err != nil {
		writeError(w, "Failed to update sort", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": len(ids)})
}

// TogglePin flips is_pinned.
// POST /api/tasks/{id}/toggle-pin
func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	task, err := h.Store.TogglePin(ctx, economy.TaskID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, "Failed to toggle pin", err)
		return
	}
	task, err = h.withDays(ctx, task)
	if err != nil {
		writeError(w, "Failed to load counter", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// IncrementCounter records one counter increment.
// POST /api/tasks/{id}/increment-counter-with-points
func (h *Handler) IncrementCounter(w http.ResponseWriter, r *http.Request) {
	var req IncrementCounterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}

	var day economy.Day
	if req.Day != "" {
		var err error
		if day, err = economy.ParseDay(req.Day); err != nil {
			writeError(w, "Invalid day", err)
			return
		}
	}

	res, err := h.Accumulator.IncrementTask(
		r.Context(),
		economy.TaskID(chi.URLParam(r, "id")),
		day,
		req.Points,
		economy.PointsType(strings.ToUpper(req.PointsType)),
	)
	if err != nil {
		writeError(w, "Failed to increment counter", err)
		return
	}

	writeJSON(w, http.StatusOK, IncrementResultDTO{
		CounterTask:       *toCounterTaskDTO(res.Counter),
		Bucket:            DayPointsDTO{Day: res.Bucket.Day.String(), Points: res.Bucket.Points},
		AccumulatedPoints: res.AccumulatedPoints,
	})
}

// =============================================================================
// SUBTASK HANDLERS
// =============================================================================

// ListSubTasks returns subtasks, optionally of one parent.
// GET /api/subtasks?parent_task_id=
func (h *Handler) ListSubTasks(w http.ResponseWriter, r *http.Request) {
	var parent *economy.TaskID
	if id := r.URL.Query().Get("parent_task_id"); id != "" {
		taskID := economy.TaskID(id)
		parent = &taskID
	}

	subs, err := h.Store.ListSubTasks(r.Context(), parent)
	if err != nil {
		writeError(w, "Failed to list subtasks", err)
		return
	}
	dtos := make([]SubTaskDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubTaskDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateSubTask(w http.ResponseWriter, r *http.Request) {
	var req CreateSubTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	created, err := h.Store.CreateSubTask(r.Context(), economy.SubTask{
		ParentTaskID:   economy.TaskID(req.ParentTaskID),
		Name:           req.Name,
		IsActive:       req.IsActive == nil || *req.IsActive,
		IsAddedToToday: req.IsAddedToToday,
	})
	if err != nil {
		writeError(w, "Failed to create subtask", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubTaskDTO(created))
}

func (h *Handler) UpdateSubTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	updated, err := h.Store.UpdateSubTask(r.Context(), economy.SubTaskID(chi.URLParam(r, "id")), sqlite.SubTaskUpdate{
		Name:           req.Name,
		IsActive:       req.IsActive,
		IsAddedToToday: req.IsAddedToToday,
	})
	if err != nil {
		writeError(w, "Failed to update subtask", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubTaskDTO(updated))
}

func (h *Handler) DeleteSubTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteSubTask(r.Context(), economy.SubTaskID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, "Failed to delete subtask", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
