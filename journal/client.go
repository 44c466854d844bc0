package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/calvinmclean/babyapi"
)

// Event is a note attached to a run, like a mechanism reaching a terminal state
type Event struct {
	Note string    `json:"note"`
	Time time.Time `json:"time"`
}

// Run is the journal's record of one tending operation
type Run struct {
	// include NilResource so we don't implement Render/Bind which are not needed
	*babyapi.NilResource

	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Outcome    string    `json:"outcome,omitempty"`
	Events     []Event   `json:"events,omitempty"`
}

func (r Run) GetID() string {
	return r.ID
}

// ErrNoRun is returned by AddEvent and Done when the last Start did not create a run
var ErrNoRun = errors.New("no journal run started")

// Client records tending runs on a journal service
type Client struct {
	client *babyapi.Client[*Run]
	runID  string
}

func NewClient(addr string) *Client {
	client := babyapi.NewClient[*Run](addr, "/runs")
	return &Client{client: client}
}

// Start creates the run. Later calls refer to this run until the next Start. If creating
// the run fails, later calls return ErrNoRun instead of writing to the previous run
func (c *Client) Start(ctx context.Context, id string, startedAt time.Time) error {
	c.runID = ""

	resp, err := c.client.Post(ctx, &Run{ID: id, StartedAt: startedAt})
	if err != nil {
		return err
	}

	c.runID = resp.Data.GetID()
	return nil
}

func (c *Client) AddEvent(ctx context.Context, note string, now time.Time) error {
	if c.runID == "" {
		return ErrNoRun
	}

	url, _ := c.client.URL(c.runID)
	url += "/add-event"

	return c.makeRequest(ctx, url, Event{Note: note, Time: now})
}

// Done records the outcome and closes the run
func (c *Client) Done(ctx context.Context, outcome string, now time.Time) error {
	if c.runID == "" {
		return ErrNoRun
	}

	url, _ := c.client.URL(c.runID)
	url += "/done"

	return c.makeRequest(ctx, url, map[string]any{"time": now, "outcome": outcome})
}

func (c *Client) makeRequest(ctx context.Context, url string, body any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding body: %w", err)
		}

		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Add("Content-Type", "application/json")

	resp, err := c.client.MakeGenericRequest(req, nil)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	if resp.Response.StatusCode != http.StatusNoContent {
		return fmt.Errorf("unexpected status code: %d, response: %v", resp.Response.StatusCode, resp.Body)
	}

	return nil
}
