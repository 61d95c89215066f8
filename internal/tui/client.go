package tui

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/launchpad/internal/api"
	"github.com/mattjoyce/launchpad/internal/events"
	"github.com/mattjoyce/launchpad/internal/job"
)

// Client talks to a running launchpad job service.
type Client struct {
	baseURL string
	apiKey  string

	http   *http.Client
	stream *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var h api.HealthResponse
	err := c.getJSON(ctx, "/health", &h)
	return h, err
}

// Jobs queries GET /jobs.
func (c *Client) Jobs(ctx context.Context) ([]job.Job, error) {
	var resp api.JobListResponse
	if err := c.getJSON(ctx, "/jobs", &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Delete removes a job via DELETE /jobs/{id}.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/jobs/"+id)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// Stream follows GET /events until the connection drops or ctx is done,
// calling fn for every event. It resumes after lastID and returns the last
// ID it saw.
func (c *Client) Stream(ctx context.Context, lastID int64, fn func(events.Event)) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/events")
	if err != nil {
		return lastID, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return lastID, err
	}

	err = readSSE(resp.Body, func(ev events.Event) {
		if ev.ID > lastID {
			lastID = ev.ID
		}
		fn(ev)
	})
	return lastID, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var e api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return errors.New(resp.Status)
}

// readSSE parses an event stream. Comment lines (keep-alives) are ignored and
// a frame is dispatched on the blank line that ends it.
func readSSE(r io.Reader, fn func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		current events.Event
		data    []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Type != "" || len(data) > 0 {
				current.At = time.Now()
				current.Data = json.RawMessage(strings.Join(data, "\n"))
				fn(current)
			}
			current = events.Event{}
			data = data[:0]
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			if id, err := strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event:"):
			current.Type = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(line[5:], " "))
		}
	}
	return scanner.Err()
}
