// Package replay executes queued write operations against the remote
// TaskDeck API.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/taskdeck/clientsync/internal/errors"
	"github.com/taskdeck/clientsync/internal/models"
)

// Replayer replays a single queued operation. A nil return means the
// remote accepted the write and the operation may be dequeued.
type Replayer interface {
	Replay(ctx context.Context, op models.QueuedOperation) error
}

// HTTPReplayer issues the stored method/endpoint/body as an HTTP request
// against a base URL.
type HTTPReplayer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReplayer creates an HTTPReplayer. timeout bounds each replayed
// request; zero means no client-side timeout.
func NewHTTPReplayer(baseURL string, timeout time.Duration) *HTTPReplayer {
	return &HTTPReplayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Replay sends the operation. 2xx responses are success; anything else
// is an error the caller should count against the retry budget.
func (r *HTTPReplayer) Replay(ctx context.Context, op models.QueuedOperation) error {
	url := r.baseURL + op.Endpoint

	var body io.Reader
	if len(op.Body) > 0 {
		body = bytes.NewReader(op.Body)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, url, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrReplayFailed,
			fmt.Sprintf("build request for %s %s", op.Method, op.Endpoint), err)
	}
	if len(op.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrReplayUnreachable,
			fmt.Sprintf("replay %s %s", op.Method, op.Endpoint), err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.New(apperrors.ErrReplayBadStatus,
			fmt.Sprintf("remote returned %d for %s %s", resp.StatusCode, op.Method, op.Endpoint))
	}
	return nil
}
