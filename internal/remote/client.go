package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/plexa-app/plexa/internal/errors"
	"github.com/plexa-app/plexa/internal/models"
)

// Client talks to the remote entity service. Every call carries a timeout;
// a timed-out push is indistinguishable from connectivity loss and leaves
// the entity pending for the next sync pass.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	token   string
}

// NewClient creates a client for the entity service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{},
		timeout: timeout,
	}
}

// SetToken installs the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

// errorBody is the failure envelope the server writes on 4xx/5xx.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "marshal request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts and refused connections look the same to the engine.
		return nil, errors.Wrap(errors.ErrTransientNetwork, "server unreachable", err)
	}

	// Buffer the body while the timeout context is still live; callers
	// decode after do returns, when cancel has already fired.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransientNetwork, "read response", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

func decodeInto(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(errors.ErrTransientNetwork, "malformed server response", err)
	}
	return nil
}

func serverError(resp *http.Response) error {
	defer resp.Body.Close()
	var body errorBody
	json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case resp.StatusCode == http.StatusBadRequest:
		return errors.New(errors.ErrValidation, body.Error)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrAuthFailed, body.Error)
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrNotFound, body.Error)
	case resp.StatusCode >= 500:
		return errors.Newf(errors.ErrTransientNetwork, "server error %d: %s", resp.StatusCode, body.Error)
	default:
		return errors.Newf(errors.ErrInternal, "unexpected status %d: %s", resp.StatusCode, body.Error)
	}
}

// CreateEntity creates a new entity server-side and returns its assigned
// id and initial version.
func (c *Client) CreateEntity(ctx context.Context, typ models.EntityType, req CreateRequest) (*Entity, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/entities/"+string(typ), req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var entity Entity
	if err := decodeInto(resp, &entity); err != nil {
		return nil, err
	}
	return &entity, nil
}

// PushEntity submits a mutation with its base version. A version mismatch
// comes back as a conflict outcome, not an error; a validation rejection
// comes back as a rejected outcome.
func (c *Client) PushEntity(ctx context.Context, typ models.EntityType, req PushRequest) (*PushResult, error) {
	resp, err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/api/entities/%s/%s", typ, req.ID), req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var accepted PushAccepted
		if err := decodeInto(resp, &accepted); err != nil {
			return nil, err
		}
		return &PushResult{Outcome: OutcomeAccepted, Accepted: &accepted}, nil

	case http.StatusConflict:
		var conflict PushConflict
		if err := decodeInto(resp, &conflict); err != nil {
			return nil, err
		}
		return &PushResult{Outcome: OutcomeConflict, Conflict: &conflict}, nil

	case http.StatusBadRequest:
		defer resp.Body.Close()
		var body errorBody
		json.NewDecoder(resp.Body).Decode(&body)
		return &PushResult{Outcome: OutcomeRejected, RejectReason: body.Error}, nil

	default:
		return nil, serverError(resp)
	}
}

// PullSince fetches entities of one type updated after the given server
// timestamp (unix millis).
func (c *Client) PullSince(ctx context.Context, typ models.EntityType, since int64) (*PullResponse, error) {
	path := fmt.Sprintf("/api/entities/%s?since=%s",
		typ, url.QueryEscape(strconv.FormatInt(since, 10)))

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var pull PullResponse
	if err := decodeInto(resp, &pull); err != nil {
		return nil, err
	}
	return &pull, nil
}

// SyncTodos pushes a batch of todo mutations through the dedicated batch
// endpoint. Per-item outcomes mirror PushEntity semantics.
func (c *Client) SyncTodos(ctx context.Context, req TodoSyncRequest) (*TodoSyncResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/todos/sync", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var out TodoSyncResponse
	if err := decodeInto(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates against the entity service and installs the
// returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", serverError(resp)
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := decodeInto(resp, &body); err != nil {
		return "", err
	}

	c.token = body.Data.Token
	return body.Data.Token, nil
}
