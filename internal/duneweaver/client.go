// Package duneweaver is a client for the local HTTP API of a Dune Weaver sand table.
package duneweaver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

const maxErrorBody = 200

// Client talks to one table. Each call performs a single request and
// releases the connection before returning.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the table at host:port
func NewClient(host string, port int, logger *zap.Logger) *Client {
	return NewClientWithURL("http://"+net.JoinHostPort(host, strconv.Itoa(port)), logger)
}

// NewClientWithURL creates a client for an explicit base URL
func NewClientWithURL(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		logger:     logger.Named("duneweaver"),
	}
}

// BaseURL returns the table's base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// RunThetaRho starts drawing the given pattern file
func (c *Client) RunThetaRho(ctx context.Context, fileName string) error {
	body, err := json.Marshal(RunRequest{
		FileName:     fileName,
		PreExecution: PreExecutionAdaptive,
	})
	if err != nil {
		return fmt.Errorf("failed to encode run request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/run_theta_rho", nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	c.logger.Debug("Pattern accepted", zap.String("file_name", fileName))
	return nil
}

// GetPlaylist fetches a playlist by name. A 404 or a JSON null body
// yields ErrPlaylistNotFound.
func (c *Client) GetPlaylist(ctx context.Context, name string) (*Playlist, error) {
	query := url.Values{"name": []string{name}}

	resp, err := c.do(ctx, http.MethodGet, "/get_playlist", query, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPlaylistNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var playlist *Playlist
	if err := json.NewDecoder(resp.Body).Decode(&playlist); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrPlaylistNotFound
		}
		return nil, fmt.Errorf("failed to decode playlist %q: %w", name, err)
	}
	if playlist == nil {
		return nil, ErrPlaylistNotFound
	}
	if playlist.Name == "" {
		playlist.Name = name
	}

	return playlist, nil
}

// ListThetaRhoFiles returns every pattern file on the table
func (c *Client) ListThetaRhoFiles(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/list_theta_rho_files", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var files []string
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("failed to decode pattern list: %w", err)
	}

	return files, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     resp.Request.Method,
		Path:       resp.Request.URL.Path,
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(data)),
	}
}
