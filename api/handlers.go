/*
handlers.go - HTTP API handlers for the points economy

PURPOSE:
  Exposes the points economy via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the economy engines. Balances are
  recomputed from tasks on every read.

ENDPOINTS:
  Identities:
    GET    /api/identities                 List with balance and progress
    POST   /api/identities                 Create identity
    GET    /api/identities/{id}            Get identity
    PUT    /api/identities/{id}            Partial update
    DELETE /api/identities/{id}            Delete (tasks cascade)
    GET    /api/identities/{id}/balance    Identity balance and progress

  Tasks (tasks.go):
    GET    /api/tasks                      List, filterable
    POST   /api/tasks                      Create DEFAULT or COUNTER task
    GET    /api/tasks/{id}                 Get task with day buckets
    PUT    /api/tasks/{id}                 Partial update, is_active toggles completion
    DELETE /api/tasks/{id}                 Delete (subtasks and counter cascade)
    PUT    /api/tasks/update-sort          Reorder
    POST   /api/tasks/{id}/increment-counter-with-points
    POST   /api/tasks/{id}/toggle-pin

  Rewards (rewards.go):
    GET    /api/rewards                    ?available=true | ?redeemed=true
    POST   /api/rewards
    GET    /api/rewards/{id}
    PUT    /api/rewards/{id}
    DELETE /api/rewards/{id}
    GET    /api/rewards/{id}/preview       Tasks a redemption would lock
    POST   /api/rewards/{id}/redeem        Lock tasks and redeem

  Balance & admin:
    GET    /api/balance                    Ledger summary
    POST   /api/admin/tasks/{id}/unlock    Clear a task lock

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: Database access (CRUD that carries no point math)
  - Completer, Accumulator, Engine: Every write that moves points

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}. Status derives from
  the economy error taxonomy:
  - 400: ErrInvalidArgument
  - 404: ErrNotFound
  - 409: ErrAlreadyRedeemed, ErrConcurrencyConflict, ErrTaskLocked
  - 422: ErrInsufficientPoints
  - 500: everything else

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Completer   *economy.Completer
	Accumulator *economy.CounterAccumulator
	Engine      *economy.RewardLockEngine

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler whose engines share store.
func NewHandler(store *sqlite.Store, funding economy.FundingMode) *Handler {
	return &Handler{
		Store:       store,
		Completer:   economy.NewCompleter(store),
		Accumulator: economy.NewCounterAccumulator(store),
		Engine:      economy.NewRewardLockEngine(store, funding),
	}
}

// =============================================================================
// IDENTITY HANDLERS
// =============================================================================

// ListIdentities returns all identities with their balance and progress.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identities, err := h.Store.ListIdentities(ctx)
	if err != nil {
		writeError(w, "Failed to list identities", err)
		return
	}
	tasks, err := h.Store.ListTasks(ctx, economy.TaskFilter{})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}

	dtos := make([]IdentityDTO, len(identities))
	for i, identity := range identities {
		dtos[i] = toIdentityDTO(identity, tasks)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := economy.IdentityID(chi.URLParam(r, "id"))

	identity, err := h.Store.GetIdentity(ctx, id)
	if err != nil {
		writeError(w, "Failed to get identity", err)
		return
	}
	tasks, err := h.Store.ListTasks(ctx, economy.TaskFilter{IdentityID: &id})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(identity, tasks))
}

// CreateIdentity creates an identity. is_active defaults to true.
func (h *Handler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req CreateIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}

	identity := economy.Identity{
		Name:           req.Name,
		Description:    req.Description,
		RequiredPoints: req.RequiredPoints,
		IsActive:       req.IsActive == nil || *req.IsActive,
	}
	created, err := h.Store.CreateIdentity(r.Context(), identity)
	if err != nil {
		writeError(w, "Failed to create identity", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIdentityDTO(created, nil))
}

func (h *Handler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var req UpdateIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := economy.IdentityID(chi.URLParam(r, "id"))
	updated, err := h.Store.UpdateIdentity(ctx, id, sqlite.IdentityUpdate{
		Name:           req.Name,
		Description:    req.Description,
		RequiredPoints: req.RequiredPoints,
		IsActive:       req.IsActive,
	})
	if err != nil {
		writeError(w, "Failed to update identity", err)
		return
	}
	tasks, err := h.Store.ListTasks(ctx, economy.TaskFilter{IdentityID: &id})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}
	writeJSON(w, http.StatusOK, toIdentityDTO(updated, tasks))
}

func (h *Handler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id := economy.IdentityID(chi.URLParam(r, "id"))
	if err := h.Store.DeleteIdentity(r.Context(), id); err != nil {
		writeError(w, "Failed to delete identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance returns the ledger summary over every task.
// GET /api/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), economy.TaskFilter{})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}
	s := economy.Summarize(tasks)
	writeJSON(w, http.StatusOK, LedgerSummaryDTO{
		Earned:    s.Earned,
		Penalties: s.Penalties,
		Spent:     s.Spent,
		Balance:   s.Balance,
	})
}

// GetIdentityBalance returns one identity's balance and threshold progress.
// GET /api/identities/{id}/balance
func (h *Handler) GetIdentityBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := economy.IdentityID(chi.URLParam(r, "id"))

	identity, err := h.Store.GetIdentity(ctx, id)
	if err != nil {
		writeError(w, "Failed to get identity", err)
		return
	}
	tasks, err := h.Store.ListTasks(ctx, economy.TaskFilter{IdentityID: &id})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}

	balance := economy.ComputeBalanceForIdentity(tasks, id)
	writeJSON(w, http.StatusOK, IdentityBalanceDTO{
		IdentityID:     string(id),
		Balance:        balance,
		AcquiredPoints: economy.AcquiredPoints(tasks, id),
		Progress:       toProgressDTO(economy.Progress(balance, identity.RequiredPoints)),
	})
}

func toIdentityDTO(identity economy.Identity, tasks []economy.Task) IdentityDTO {
	balance := economy.ComputeBalanceForIdentity(tasks, identity.ID)
	open := 0
	for _, t := range tasks {
		if t.IdentityID == identity.ID && t.IsActive {
			open++
		}
	}
	return IdentityDTO{
		ID:             string(identity.ID),
		Name:           identity.Name,
		Description:    identity.Description,
		RequiredPoints: identity.RequiredPoints,
		IsActive:       identity.IsActive,
		CreatedAt:      formatTime(identity.CreatedAt),
		Balance:        balance,
		AcquiredPoints: economy.AcquiredPoints(tasks, identity.ID),
		OpenTasks:      open,
		Progress:       toProgressDTO(economy.Progress(balance, identity.RequiredPoints)),
	}
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// UnlockTask clears a task lock. Nothing else ever clears one.
// POST /api/admin/tasks/{id}/unlock
func (h *Handler) UnlockTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := economy.TaskID(chi.URLParam(r, "id"))

	task, err := h.Engine.UnlockTask(ctx, id)
	if err != nil {
		writeError(w, "Failed to unlock task", err)
		return
	}
	task, err = h.withDays(ctx, task)
	if err != nil {
		writeError(w, "Failed to load counter", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskDTO(task))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an ErrorResponse. The status comes from err's kind.
func writeError(w http.ResponseWriter, message string, err error) {
	code := economy.Code(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %s: %v", message, err)
	}

	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusFor(code string) int {
	switch code {
	case economy.CodeNotFound:
		return http.StatusNotFound
	case economy.CodeInvalidArgument:
		return http.StatusBadRequest
	case economy.CodeInsufficientPoints:
		return http.StatusUnprocessableEntity
	case economy.CodeAlreadyRedeemed, economy.CodeConcurrencyConflict, economy.CodeTaskLocked:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body. Malformed bodies are invalid arguments.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &economy.InvalidArgumentError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// boolQuery parses an optional boolean query parameter.
func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, &economy.InvalidArgumentError{Field: name, Reason: fmt.Sprintf("%q is not a boolean", raw)}
	}
	return &v, nil
}

// withDays replaces a counter task's counter with one carrying day buckets.
func (h *Handler) withDays(ctx context.Context, task economy.Task) (economy.Task, error) {
	counter, ok := task.Counter()
	if !ok {
		return task, nil
	}
	full, err := h.Store.GetCounterTaskWithDayPoints(ctx, counter.ID)
	if errors.Is(err, economy.ErrNotFound) {
		return task, nil
	}
	if err != nil {
		return economy.Task{}, err
	}
	task.Variant = economy.CounterVariant{Counter: full}
	return task, nil
}
