/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates identities, tasks and
	rewards that demonstrate one part of the economy.

AVAILABLE SCENARIOS:

	fitness:    Three completed tasks (100, 50, 200 oldest to newest) and a
	            120 point reward. Redeeming locks 100 and 50, leaving 200.
	hydration:  A counter task with buckets yesterday and today, a penalty
	            and a reward covered by lockable points alone.
	empty:      One identity and nothing else.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create identities
 3. Create tasks, completed ones with backdated timestamps so the lock
    order is deterministic
 4. Record counter increments through the accumulator
 5. Create rewards

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fitness"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and error helpers
  - economy/redeem.go: The lock order the fitness scenario demonstrates
*/
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/warp/questpoints/economy"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fitness",
		Name:        "Fitness",
		Description: "Three completed workouts and a reward that locks the two oldest",
	},
	{
		ID:          "hydration",
		Name:        "Hydration",
		Description: "Counter task with day buckets, a penalty task and a reward",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "A single identity with no tasks",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", err)
		return
	}
	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeError(w, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears every table.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LoadScenarioByID resets the database and loads scenario id.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	var load func(context.Context, time.Time) error
	switch id {
	case "fitness":
		load = h.loadFitnessScenario
	case "hydration":
		load = h.loadHydrationScenario
	case "empty":
		load = h.loadEmptyScenario
	default:
		return &economy.InvalidArgumentError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", id)}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""
	if err := load(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("scenario %s: %w", id, err)
	}
	h.currentScenario = id
	log.Printf("[Scenario] loaded %s", id)
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadFitnessScenario(ctx context.Context, now time.Time) error {
	athlete, err := h.Store.CreateIdentity(ctx, economy.Identity{
		Name:           "Athlete",
		Description:    "Shows up to train",
		RequiredPoints: 300,
		IsActive:       true,
	})
	if err != nil {
		return err
	}

	// Oldest first: the redemption below locks in this order.
	workouts := []struct {
		name   string
		points int
		age    time.Duration
	}{
		{"Morning run", 100, 72 * time.Hour},
		{"Stretching", 50, 48 * time.Hour},
		{"Gym session", 200, 24 * time.Hour},
	}
	for _, w := range workouts {
		at := now.Add(-w.age)
		if _, err := h.Store.CreateTask(ctx, economy.Task{
			Name:       w.name,
			IdentityID: athlete.ID,
			Points:     w.points,
			PointsType: economy.PointsPositive,
			Variant:    economy.DefaultVariant{},
			IsActive:   false,
			CreatedAt:  at,
			UpdatedAt:  at,
		}); err != nil {
			return err
		}
	}

	if _, err := h.Store.CreateTask(ctx, economy.Task{
		Name:           "Yoga class",
		IdentityID:     athlete.ID,
		Points:         80,
		PointsType:     economy.PointsPositive,
		Variant:        economy.DefaultVariant{},
		IsActive:       true,
		IsAddedToToday: true,
	}); err != nil {
		return err
	}

	for _, rw := range []economy.Reward{
		{Name: "New running shoes", Description: "The pair in the shop window", Cost: 120, ImageCollection: []string{"shoes.png"}},
		{Name: "Sports massage", Description: "One hour", Cost: 300, ImageCollection: []string{"massage.png"}},
	} {
		if _, err := h.Store.CreateReward(ctx, rw); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadHydrationScenario(ctx context.Context, now time.Time) error {
	me, err := h.Store.CreateIdentity(ctx, economy.Identity{
		Name:           "Healthy me",
		Description:    "Small habits every day",
		RequiredPoints: 100,
		IsActive:       true,
	})
	if err != nil {
		return err
	}

	water, err := h.Store.CreateTask(ctx, economy.Task{
		Name:           "Drink a glass of water",
		IdentityID:     me.ID,
		PointsType:     economy.PointsPositive,
		Variant:        economy.CounterVariant{Counter: economy.CounterTask{Target: 8, DefaultPoints: 5}},
		IsActive:       true,
		IsAddedToToday: true,
	})
	if err != nil {
		return err
	}
	counter, _ := water.Counter()

	// Yesterday's bucket is already closed to increments, so it is written
	// to the store directly.
	today := economy.DayOf(now)
	err = h.Store.WithTx(ctx, func(s economy.Store) error {
		for i := 0; i < 3; i++ {
			if _, err := s.IncrementCounterCount(ctx, counter.ID); err != nil {
				return err
			}
			if _, err := s.UpsertCounterDayPoints(ctx, counter.ID, today.AddDays(-1), counter.DefaultPoints); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := h.Accumulator.RecordIncrement(ctx, counter.ID, today, counter.DefaultPoints, economy.PointsPositive); err != nil {
			return err
		}
	}

	for _, t := range []economy.Task{
		{Name: "Read 20 pages", Points: 40, PointsType: economy.PointsPositive, CreatedAt: now.Add(-30 * time.Hour)},
		{Name: "Skipped workout", Points: 30, PointsType: economy.PointsNegative, CreatedAt: now.Add(-20 * time.Hour)},
	} {
		t.IdentityID = me.ID
		t.Variant = economy.DefaultVariant{}
		t.UpdatedAt = t.CreatedAt
		if _, err := h.Store.CreateTask(ctx, t); err != nil {
			return err
		}
	}

	_, err = h.Store.CreateReward(ctx, economy.Reward{
		Name:            "Movie night",
		Description:     "Pick any film",
		Cost:            40,
		ImageCollection: []string{"movie.png"},
	})
	return err
}

func (h *Handler) loadEmptyScenario(ctx context.Context, _ time.Time) error {
	_, err := h.Store.CreateIdentity(ctx, economy.Identity{
		Name:     "Me",
		IsActive: true,
	})
	return err
}
