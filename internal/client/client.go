// Package client is a Go client for the supportqueue HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/refset/supportqueue/internal/api"
	"github.com/refset/supportqueue/internal/queue"
)

const (
	defaultTimeout = 30 * time.Second
	// Only transaction conflicts (503) are retried. Nothing was committed
	// for them, so repeating a POST is safe.
	defaultRetries = 2
)

// Client calls the supportqueue API. Errors returned by the server match
// the queue package's sentinel errors with errors.Is.
type Client struct {
	baseURL    string
	httpClient *resty.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/")}
	c.httpClient = c.configure(resty.New())
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = c.configure(resty.NewWithClient(hc))
	return c
}

func (c *Client) configure(rc *resty.Client) *resty.Client {
	rc.SetBaseURL(c.baseURL).
		SetTimeout(defaultTimeout).
		SetRetryCount(defaultRetries).
		SetRetryWaitTime(50 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(resp *resty.Response, _ error) bool {
			return resp != nil && resp.StatusCode() == http.StatusServiceUnavailable
		}).
		SetHeader("Accept", "application/json")

	rc.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		return handleError(resp)
	})
	return rc
}

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Terminals []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supportqueue API error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap returns the queue sentinel for the error code, if any.
func (e *APIError) Unwrap() error {
	return queue.ErrorForCode(e.Code)
}

func (c *Client) Board(ctx context.Context) (*queue.Board, error) {
	var board queue.Board
	if err := c.do(ctx, http.MethodGet, "/api/board", nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) AddTeam(ctx context.Context, name string, allowance int) (string, error) {
	var resp api.IDResponse
	err := c.do(ctx, http.MethodPost, "/api/teams", api.TeamRequest{Name: name, Allowance: allowance}, &resp)
	return resp.ID, err
}

func (c *Client) Team(ctx context.Context, id string) (*queue.Team, error) {
	var team queue.Team
	if err := c.do(ctx, http.MethodGet, "/api/teams/"+url.PathEscape(id), nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (c *Client) RenameTeam(ctx context.Context, id, name string) error {
	return c.do(ctx, http.MethodPatch, "/api/teams/"+url.PathEscape(id), api.NameRequest{Name: name}, nil)
}

func (c *Client) SetAllowance(ctx context.Context, id string, initial, remaining int) error {
	body := api.AllowanceRequest{Initial: initial, Remaining: remaining}
	return c.do(ctx, http.MethodPut, "/api/teams/"+url.PathEscape(id)+"/allowance", body, nil)
}

func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/teams/"+url.PathEscape(id), nil, nil)
}

func (c *Client) AddParticipant(ctx context.Context, id, name, teamID string) error {
	return c.do(ctx, http.MethodPost, "/api/participants", api.ParticipantRequest{ID: id, Name: name, TeamID: teamID}, nil)
}

func (c *Client) DeleteParticipant(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/participants/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateTicket(ctx context.Context, teamID, participantID, topic string) (string, error) {
	var resp api.IDResponse
	body := api.TicketRequest{TeamID: teamID, ParticipantID: participantID, Topic: topic}
	err := c.do(ctx, http.MethodPost, "/api/tickets", body, &resp)
	return resp.ID, err
}

func (c *Client) EditTopic(ctx context.Context, ticketID, topic string) error {
	return c.do(ctx, http.MethodPatch, "/api/tickets/"+url.PathEscape(ticketID), api.TopicRequest{Topic: topic}, nil)
}

func (c *Client) DeleteTicket(ctx context.Context, ticketID string) (*queue.Deletion, error) {
	var del queue.Deletion
	if err := c.do(ctx, http.MethodDelete, "/api/tickets/"+url.PathEscape(ticketID), nil, &del); err != nil {
		return nil, err
	}
	return &del, nil
}

func (c *Client) RelocateTicket(ctx context.Context, ticketID string, target queue.Target) error {
	return c.do(ctx, http.MethodPost, "/api/tickets/"+url.PathEscape(ticketID)+"/relocate", target, nil)
}

func (c *Client) AddTerminal(ctx context.Context, name string) (string, error) {
	var resp api.IDResponse
	err := c.do(ctx, http.MethodPost, "/api/terminals", api.NameRequest{Name: name}, &resp)
	return resp.ID, err
}

func (c *Client) RenameTerminal(ctx context.Context, id, name string) error {
	return c.do(ctx, http.MethodPatch, "/api/terminals/"+url.PathEscape(id), api.NameRequest{Name: name}, nil)
}

func (c *Client) DeleteTerminal(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/terminals/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ToggleOpen(ctx context.Context, id string) (bool, error) {
	var resp api.ToggleResponse
	err := c.do(ctx, http.MethodPost, "/api/terminals/"+url.PathEscape(id)+"/toggle", nil, &resp)
	return resp.IsOpen, err
}

func (c *Client) CallNext(ctx context.Context, terminalID string) (string, error) {
	var resp api.CallNextResponse
	err := c.do(ctx, http.MethodPost, "/api/terminals/"+url.PathEscape(terminalID)+"/call-next", nil, &resp)
	return resp.TicketID, err
}

func (c *Client) StartSupport(ctx context.Context, terminalID, ticketID string) error {
	path := "/api/terminals/" + url.PathEscape(terminalID) + "/start"
	return c.do(ctx, http.MethodPost, path, api.TicketIDRequest{TicketID: ticketID}, nil)
}

func (c *Client) EndSupport(ctx context.Context, terminalID, ticketID string) error {
	path := "/api/terminals/" + url.PathEscape(terminalID) + "/end"
	return c.do(ctx, http.MethodPost, path, api.TicketIDRequest{TicketID: ticketID}, nil)
}

// Ping checks connectivity to the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	req := c.httpClient.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	if _, err := req.Execute(method, path); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// handleError turns a non-2xx response into an *APIError.
func handleError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	var body api.ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		apiErr.Code = body.Error
		apiErr.Message = body.Message
		apiErr.Terminals = body.Terminals
	} else {
		apiErr.Code = "internal"
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}
