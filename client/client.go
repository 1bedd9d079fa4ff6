/*
Package client is the Go consumer of the questpoints REST API.

  Client    typed calls over the api package's DTOs. Error responses come
            back as *APIError, which unwraps to the economy sentinel named
            by the response code, so errors.Is(err, economy.ErrNotFound)
            works across the wire.
  Board     the task board views, cached and mutated optimistically
            (board.go).

SEE ALSO:
  - api/dto.go: Wire types
  - optimistic/: Cache and mutation state machine
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/warp/questpoints/api"
	"github.com/warp/questpoints/economy"
)

// =============================================================================
// ERRORS
// =============================================================================

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d %s): %s", e.Message, e.Status, e.Code, e.Details)
	}
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// Unwrap returns the economy sentinel for Code, nil when unknown.
func (e *APIError) Unwrap() error { return economy.FromCode(e.Code) }

// =============================================================================
// CLIENT
// =============================================================================

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var er api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			apiErr.Code = er.Code
			apiErr.Message = er.Error
			apiErr.Details = er.Details
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// =============================================================================
// IDENTITIES
// =============================================================================

func (c *Client) ListIdentities(ctx context.Context) ([]api.IdentityDTO, error) {
	var out []api.IdentityDTO
	return out, c.do(ctx, http.MethodGet, "/api/identities", nil, &out)
}

func (c *Client) CreateIdentity(ctx context.Context, req api.CreateIdentityRequest) (api.IdentityDTO, error) {
	var out api.IdentityDTO
	return out, c.do(ctx, http.MethodPost, "/api/identities", req, &out)
}

func (c *Client) IdentityBalance(ctx context.Context, id string) (api.IdentityBalanceDTO, error) {
	var out api.IdentityBalanceDTO
	return out, c.do(ctx, http.MethodGet, "/api/identities/"+url.PathEscape(id)+"/balance", nil, &out)
}

// =============================================================================
// TASKS
// =============================================================================

// TaskQuery mirrors the list filters. Nil fields are not sent.
type TaskQuery struct {
	IdentityID     string
	IsActive       *bool
	IsFavorited    *bool
	IsAddedToToday *bool
	IsLocked       *bool
}

func (q TaskQuery) encode() string {
	v := url.Values{}
	if q.IdentityID != "" {
		v.Set("identity_id", q.IdentityID)
	}
	setBool := func(name string, b *bool) {
		if b != nil {
			v.Set(name, fmt.Sprint(*b))
		}
	}
	setBool("is_active", q.IsActive)
	setBool("is_favorited", q.IsFavorited)
	setBool("is_added_to_today", q.IsAddedToToday)
	setBool("is_locked", q.IsLocked)
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]api.TaskDTO, error) {
	var out []api.TaskDTO
	return out, c.do(ctx, http.MethodGet, "/api/tasks"+q.encode(), nil, &out)
}

func (c *Client) GetTask(ctx context.Context, id string) (api.TaskDTO, error) {
	var out api.TaskDTO
	return out, c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out)
}

func (c *Client) CreateTask(ctx context.Context, req api.CreateTaskRequest) (api.TaskDTO, error) {
	var out api.TaskDTO
	return out, c.do(ctx, http.MethodPost, "/api/tasks", req, &out)
}

func (c *Client) UpdateTask(ctx context.Context, id string, req api.UpdateTaskRequest) (api.TaskDTO, error) {
	var out api.TaskDTO
	return out, c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), req, &out)
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) TogglePin(ctx context.Context, id string) (api.TaskDTO, error) {
	var out api.TaskDTO
	return out, c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/toggle-pin", nil, &out)
}

func (c *Client) UpdateSort(ctx context.Context, ids []string) error {
	return c.do(ctx, http.MethodPut, "/api/tasks/update-sort", api.UpdateSortRequest{TaskIDs: ids}, nil)
}

func (c *Client) IncrementCounter(ctx context.Context, id string, req api.IncrementCounterRequest) (api.IncrementResultDTO, error) {
	var out api.IncrementResultDTO
	return out, c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/increment-counter-with-points", req, &out)
}

func (c *Client) UnlockTask(ctx context.Context, id string) (api.TaskDTO, error) {
	var out api.TaskDTO
	return out, c.do(ctx, http.MethodPost, "/api/admin/tasks/"+url.PathEscape(id)+"/unlock", nil, &out)
}

// =============================================================================
// REWARDS & BALANCE
// =============================================================================

func (c *Client) ListRewards(ctx context.Context) ([]api.RewardDTO, error) {
	var out []api.RewardDTO
	return out, c.do(ctx, http.MethodGet, "/api/rewards", nil, &out)
}

func (c *Client) CreateReward(ctx context.Context, req api.CreateRewardRequest) (api.RewardDTO, error) {
	var out api.RewardDTO
	return out, c.do(ctx, http.MethodPost, "/api/rewards", req, &out)
}

func (c *Client) PreviewRedemption(ctx context.Context, id string) (api.PreviewDTO, error) {
	var out api.PreviewDTO
	return out, c.do(ctx, http.MethodGet, "/api/rewards/"+url.PathEscape(id)+"/preview", nil, &out)
}

func (c *Client) Redeem(ctx context.Context, id string) (api.RedemptionDTO, error) {
	var out api.RedemptionDTO
	return out, c.do(ctx, http.MethodPost, "/api/rewards/"+url.PathEscape(id)+"/redeem", nil, &out)
}

func (c *Client) Balance(ctx context.Context) (api.LedgerSummaryDTO, error) {
	var out api.LedgerSummaryDTO
	return out, c.do(ctx, http.MethodGet, "/api/balance", nil, &out)
}

func (c *Client) LoadScenario(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/scenarios/load", api.LoadScenarioRequest{ScenarioID: id}, nil)
}
