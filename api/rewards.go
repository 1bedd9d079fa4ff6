package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/questpoints/economy"
	"github.com/warp/questpoints/store/sqlite"
)

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListRewards returns rewards.
// GET /api/rewards?available=true | ?redeemed=true
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	var filter sqlite.RewardFilter

	available, err := boolQuery(r, "available")
	if err != nil {
		writeError(w, "Invalid filter", err)
		return
	}
	redeemed, err := boolQuery(r, "redeemed")
	if err != nil {
		writeError(w, "Invalid filter", err)
		return
	}
	switch {
	case redeemed != nil:
		filter.IsRedeemed = redeemed
	case available != nil:
		notRedeemed := !*available
		filter.IsRedeemed = &notRedeemed
	}

	rewards, err := h.Store.ListRewards(r.Context(), filter)
	if err != nil {
		writeError(w, "Failed to list rewards", err)
		return
	}
	dtos := make([]RewardDTO, len(rewards))
	for i, rw := range rewards {
		dtos[i] = toRewardDTO(rw)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetReward(w http.ResponseWriter, r *http.Request) {
	reward, err := h.Store.GetReward(r.Context(), economy.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, "Failed to get reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(reward))
}

func (h *Handler) CreateReward(w http.ResponseWriter, r *http.Request) {
	var req CreateRewardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	created, err := h.Store.CreateReward(r.Context(), economy.Reward{
		Name:            req.Name,
		Description:     req.Description,
		Cost:            req.Cost,
		ImageCollection: req.ImageCollection,
	})
	if err != nil {
		writeError(w, "Failed to create reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardDTO(created))
}

// UpdateReward applies a partial update. Redemption state is not writable.
// PUT /api/rewards/{id}
func (h *Handler) UpdateReward(w http.ResponseWriter, r *http.Request) {
	var req UpdateRewardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	if req.IsRedeemed != nil {
		writeError(w, "Redemption is not writable", &economy.InvalidArgumentError{
			Field:  "is_redeemed",
			Reason: "use POST /api/rewards/{id}/redeem",
		})
		return
	}

	updated, err := h.Store.UpdateReward(r.Context(), economy.RewardID(chi.URLParam(r, "id")), sqlite.RewardUpdate{
		Name:            req.Name,
		Description:     req.Description,
		Cost:            req.Cost,
		ImageCollection: req.ImageCollection,
	})
	if err != nil {
		writeError(w, "Failed to update reward", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardDTO(updated))
}

// DeleteReward removes a reward. Tasks it locked stay locked.
func (h *Handler) DeleteReward(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteReward(r.Context(), economy.RewardID(chi.URLParam(r, "id"))); err != nil {
		writeError(w, "Failed to delete reward", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// PreviewRedemption shows which tasks a redemption would lock right now.
// GET /api/rewards/{id}/preview
func (h *Handler) PreviewRedemption(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := economy.RewardID(chi.URLParam(r, "id"))

	reward, err := h.Store.GetReward(ctx, id)
	if err != nil {
		writeError(w, "Failed to get reward", err)
		return
	}
	sel, err := h.Engine.Preview(ctx, id)
	if err != nil {
		writeError(w, "Failed to preview redemption", err)
		return
	}
	tasks, err := h.Store.ListTasks(ctx, economy.TaskFilter{})
	if err != nil {
		writeError(w, "Failed to list tasks", err)
		return
	}

	shortfall := reward.Cost - sel.Points
	if shortfall < 0 {
		shortfall = 0
	}
	dto := PreviewDTO{
		RewardID:  string(id),
		Tasks:     make([]TaskDTO, len(sel.Tasks)),
		Points:    sel.Points,
		Covered:   sel.Covers(reward.Cost),
		Shortfall: shortfall,
		Progress:  toProgressDTO(economy.Progress(economy.ComputeBalance(tasks), reward.Cost)),
	}
	for i, t := range sel.Tasks {
		dto.Tasks[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dto)
}

// RedeemReward locks the oldest completed tasks covering the cost and marks
// the reward redeemed, all or nothing.
// POST /api/rewards/{id}/redeem
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Redeem(r.Context(), economy.RewardID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, "Failed to redeem reward", err)
		return
	}

	dto := RedemptionDTO{
		Reward:       toRewardDTO(res.Reward),
		LockedTasks:  make([]TaskDTO, len(res.LockedTasks)),
		LockedPoints: res.LockedPoints,
	}
	for i, t := range res.LockedTasks {
		dto.LockedTasks[i] = toTaskDTO(t)
	}
	writeJSON(w, http.StatusOK, dto)
}
