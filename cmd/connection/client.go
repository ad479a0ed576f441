package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/martinsuchenak/nmconsole/internal/api"
	"github.com/martinsuchenak/nmconsole/internal/model"
)

// client talks to a running console server
type client struct {
	server string
	token  string
	http   *http.Client
}

func newClient(server, token string) *client {
	return &client{
		server: server,
		token:  token,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.server+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s", apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func connectionPath(id string) string {
	return "/api/connections/" + url.PathEscape(id)
}

func (c *client) list(ctx context.Context) ([]model.Connection, error) {
	var conns []model.Connection
	err := c.do(ctx, http.MethodGet, "/api/connections", nil, &conns)
	return conns, err
}

func (c *client) get(ctx context.Context, id string) (model.Connection, error) {
	var conn model.Connection
	err := c.do(ctx, http.MethodGet, connectionPath(id), nil, &conn)
	return conn, err
}

func (c *client) setPending(ctx context.Context, id string, req api.PendingRequest) (model.Connection, error) {
	var conn model.Connection
	err := c.do(ctx, http.MethodPut, connectionPath(id)+"/pending", req, &conn)
	return conn, err
}

func (c *client) discard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, connectionPath(id)+"/pending", nil, nil)
}

func (c *client) apply(ctx context.Context, id string) (model.Connection, error) {
	var conn model.Connection
	err := c.do(ctx, http.MethodPost, connectionPath(id)+"/apply", nil, &conn)
	return conn, err
}
