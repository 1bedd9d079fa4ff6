/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the economy model from the wire contract. The client package decodes the
  same types, so both sides of the boundary share one definition.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Identity:
    IdentityDTO, CreateIdentityRequest, UpdateIdentityRequest

  Task:
    TaskDTO, CounterTaskDTO, DayPointsDTO, CreateTaskRequest,
    UpdateTaskRequest, UpdateSortRequest, IncrementCounterRequest,
    IncrementResultDTO

  Reward:
    RewardDTO, CreateRewardRequest, UpdateRewardRequest, RedemptionDTO,
    PreviewDTO

  Balance:
    LedgerSummaryDTO, ProgressDTO

VALIDATION:
  Validation is done in the stores and engines, not in DTOs. Handlers only
  reject what cannot be expressed in the economy types (bad days, flags that
  are not writable).

SEE ALSO:
  - handlers.go: Uses these types
  - client/client.go: Decodes these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/questpoints/economy"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// =============================================================================
// IDENTITY
// =============================================================================

type IdentityDTO struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	RequiredPoints int          `json:"required_points"`
	IsActive       bool         `json:"is_active"`
	CreatedAt      string       `json:"created_at,omitempty"`
	Balance        int          `json:"balance"`
	AcquiredPoints int          `json:"acquired_points"`
	OpenTasks      int          `json:"open_tasks"`
	Progress       *ProgressDTO `json:"progress,omitempty"`
}

type CreateIdentityRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	RequiredPoints int    `json:"required_points"`
	IsActive       *bool  `json:"is_active"`
}

type UpdateIdentityRequest struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	RequiredPoints *int    `json:"required_points"`
	IsActive       *bool   `json:"is_active"`
}

// ProgressDTO is progress towards an identity threshold or a reward cost.
type ProgressDTO struct {
	Current   int             `json:"current"`
	Required  int             `json:"required"`
	Percent   decimal.Decimal `json:"percent"`
	Remaining int             `json:"remaining"`
	Complete  bool            `json:"complete"`
}

func toProgressDTO(p economy.ProgressReport) *ProgressDTO {
	return &ProgressDTO{
		Current:   p.Current,
		Required:  p.Required,
		Percent:   p.Percent,
		Remaining: p.Remaining,
		Complete:  p.Complete,
	}
}

// =============================================================================
// TASK
// =============================================================================

type TaskDTO struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	IdentityID     string          `json:"identity_id"`
	Points         int             `json:"points"`
	PointsType     string          `json:"points_type"`
	TaskType       string          `json:"task_type"`
	IsActive       bool            `json:"is_active"`
	IsFavorited    bool            `json:"is_favorited"`
	IsPinned       bool            `json:"is_pinned"`
	IsLocked       bool            `json:"is_locked"`
	IsAddedToToday bool            `json:"is_added_to_today"`
	IsBacklog      bool            `json:"is_backlog"`
	SortValue      int             `json:"sort_value"`
	CounterTask    *CounterTaskDTO `json:"counter_task,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

type CounterTaskDTO struct {
	ID                string         `json:"id"`
	Count             int            `json:"count"`
	Target            int            `json:"target"`
	DefaultPoints     int            `json:"default_points"`
	AccumulatedPoints int            `json:"accumulated_points"`
	DayPoints         []DayPointsDTO `json:"day_points"`
}

type DayPointsDTO struct {
	Day    string `json:"day"`
	Points int    `json:"points"`
}

func toTaskDTO(t economy.Task) TaskDTO {
	dto := TaskDTO{
		ID:             string(t.ID),
		Name:           t.Name,
		IdentityID:     string(t.IdentityID),
		Points:         t.Points,
		PointsType:     string(t.PointsType),
		TaskType:       string(t.Type()),
		IsActive:       t.IsActive,
		IsFavorited:    t.IsFavorited,
		IsPinned:       t.IsPinned,
		IsLocked:       t.IsLocked,
		IsAddedToToday: t.IsAddedToToday,
		IsBacklog:      t.IsBacklog,
		SortValue:      t.SortValue,
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
	}
	if counter, ok := t.Counter(); ok {
		dto.CounterTask = toCounterTaskDTO(counter)
	}
	return dto
}

func toCounterTaskDTO(c economy.CounterTask) *CounterTaskDTO {
	dto := &CounterTaskDTO{
		ID:                string(c.ID),
		Count:             c.Count,
		Target:            c.Target,
		DefaultPoints:     c.DefaultPoints,
		AccumulatedPoints: economy.AccumulatedPoints(c),
		DayPoints:         make([]DayPointsDTO, len(c.Days)),
	}
	for i, d := range c.Days {
		dto.DayPoints[i] = DayPointsDTO{Day: d.Day.String(), Points: d.Points}
	}
	return dto
}

// Task converts the DTO back to the economy type. Unparseable timestamps and
// days are left zero.
func (d TaskDTO) Task() economy.Task {
	t := economy.Task{
		ID:             economy.TaskID(d.ID),
		Name:           d.Name,
		IdentityID:     economy.IdentityID(d.IdentityID),
		Points:         d.Points,
		PointsType:     economy.PointsType(d.PointsType),
		Variant:        economy.DefaultVariant{},
		IsActive:       d.IsActive,
		IsFavorited:    d.IsFavorited,
		IsPinned:       d.IsPinned,
		IsLocked:       d.IsLocked,
		IsAddedToToday: d.IsAddedToToday,
		IsBacklog:      d.IsBacklog,
		SortValue:      d.SortValue,
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, d.CreatedAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, d.UpdatedAt)

	if c := d.CounterTask; c != nil {
		counter := economy.CounterTask{
			ID:            economy.CounterTaskID(c.ID),
			TaskID:        t.ID,
			Count:         c.Count,
			Target:        c.Target,
			DefaultPoints: c.DefaultPoints,
		}
		for _, dp := range c.DayPoints {
			day, _ := economy.ParseDay(dp.Day)
			counter.Days = append(counter.Days, economy.CounterDayPoints{
				CounterTaskID: counter.ID,
				Day:           day,
				Points:        dp.Points,
			})
		}
		t.Variant = economy.CounterVariant{Counter: counter}
	}
	return t
}

type CreateTaskRequest struct {
	Name           string `json:"name"`
	IdentityID     string `json:"identity_id"`
	Points         int    `json:"points"`
	PointsType     string `json:"points_type"`
	TaskType       string `json:"task_type"`
	IsFavorited    bool   `json:"is_favorited"`
	IsAddedToToday bool   `json:"is_added_to_today"`
	IsBacklog      bool   `json:"is_backlog"`

	// Counter tasks only
	Target        int `json:"target"`
	DefaultPoints int `json:"default_points"`
}

// UpdateTaskRequest is a partial update. IsActive goes through the completion
// rules. IsLocked is present only so it can be rejected.
type UpdateTaskRequest struct {
	Name           *string `json:"name"`
	IdentityID     *string `json:"identity_id"`
	Points         *int    `json:"points"`
	PointsType     *string `json:"points_type"`
	IsActive       *bool   `json:"is_active"`
	IsFavorited    *bool   `json:"is_favorited"`
	IsPinned       *bool   `json:"is_pinned"`
	IsAddedToToday *bool   `json:"is_added_to_today"`
	IsBacklog      *bool   `json:"is_backlog"`
	SortValue      *int    `json:"sort_value"`
	IsLocked       *bool   `json:"is_locked"`
}

type UpdateSortRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// IncrementCounterRequest is the body of increment-counter-with-points.
// Zero points and empty fields fall back to the counter's defaults and today.
type IncrementCounterRequest struct {
	Points     int    `json:"points"`
	PointsType string `json:"points_type"`
	Day        string `json:"day"`
}

type IncrementResultDTO struct {
	CounterTask       CounterTaskDTO `json:"counter_task"`
	Bucket            DayPointsDTO   `json:"bucket"`
	AccumulatedPoints int            `json:"accumulated_points"`
}

// =============================================================================
// SUBTASK
// =============================================================================

type SubTaskDTO struct {
	ID             string `json:"id"`
	ParentTaskID   string `json:"parent_task_id"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	IsAddedToToday bool   `json:"is_added_to_today"`
	CreatedAt      string `json:"created_at"`
}

func toSubTaskDTO(s economy.SubTask) SubTaskDTO {
	return SubTaskDTO{
		ID:             string(s.ID),
		ParentTaskID:   string(s.ParentTaskID),
		Name:           s.Name,
		IsActive:       s.IsActive,
		IsAddedToToday: s.IsAddedToToday,
		CreatedAt:      formatTime(s.CreatedAt),
	}
}

type CreateSubTaskRequest struct {
	ParentTaskID   string `json:"parent_task_id"`
	Name           string `json:"name"`
	IsActive       *bool  `json:"is_active"`
	IsAddedToToday bool   `json:"is_added_to_today"`
}

type UpdateSubTaskRequest struct {
	Name           *string `json:"name"`
	IsActive       *bool   `json:"is_active"`
	IsAddedToToday *bool   `json:"is_added_to_today"`
}

// =============================================================================
// REWARD
// =============================================================================

type RewardDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Cost            int      `json:"cost"`
	ImageCollection []string `json:"image_collection"`
	IsRedeemed      bool     `json:"is_redeemed"`
	RedeemedAt      *string  `json:"redeemed_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

func toRewardDTO(r economy.Reward) RewardDTO {
	dto := RewardDTO{
		ID:              string(r.ID),
		Name:            r.Name,
		Description:     r.Description,
		Cost:            r.Cost,
		ImageCollection: r.ImageCollection,
		IsRedeemed:      r.IsRedeemed,
		CreatedAt:       formatTime(r.CreatedAt),
	}
	if dto.ImageCollection == nil {
		dto.ImageCollection = []string{}
	}
	if r.RedeemedAt != nil {
		at := r.RedeemedAt.Format(time.RFC3339Nano)
		dto.RedeemedAt = &at
	}
	return dto
}

type CreateRewardRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Cost            int      `json:"cost"`
	ImageCollection []string `json:"image_collection"`
}

// UpdateRewardRequest is a partial update. IsRedeemed is present only so it
// can be rejected.
type UpdateRewardRequest struct {
	Name            *string   `json:"name"`
	Description     *string   `json:"description"`
	Cost            *int      `json:"cost"`
	ImageCollection *[]string `json:"image_collection"`
	IsRedeemed      *bool     `json:"is_redeemed"`
}

type RedemptionDTO struct {
	Reward       RewardDTO `json:"reward"`
	LockedTasks  []TaskDTO `json:"locked_tasks"`
	LockedPoints int       `json:"locked_points"`
}

type PreviewDTO struct {
	RewardID  string       `json:"reward_id"`
	Tasks     []TaskDTO    `json:"tasks"`
	Points    int          `json:"points"`
	Covered   bool         `json:"covered"`
	Shortfall int          `json:"shortfall"`
	Progress  *ProgressDTO `json:"progress"`
}

// =============================================================================
// BALANCE
// =============================================================================

type LedgerSummaryDTO struct {
	Earned    int `json:"earned"`
	Penalties int `json:"penalties"`
	Spent     int `json:"spent"`
	Balance   int `json:"balance"`
}

type IdentityBalanceDTO struct {
	IdentityID     string       `json:"identity_id"`
	Balance        int          `json:"balance"`
	AcquiredPoints int          `json:"acquired_points"`
	Progress       *ProgressDTO `json:"progress"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response. Code is one of the
// economy wire codes.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
