package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clinicore/clinicore/internal/platform/apperr"
)

// DispatchRequest is the body sent to the compute service. A 2xx answer
// means the job was accepted for asynchronous processing; the result
// arrives later on the callback endpoint.
type DispatchRequest struct {
	JobID       string                 `json:"jobId"`
	ModelType   string                 `json:"modelType"`
	Sources     map[string]string      `json:"sourceIdentifiers"`
	CallbackURL string                 `json:"callbackUrl"`
	Mode        string                 `json:"mode"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// Dispatcher hands a job to the external compute service.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// HTTPDispatcher posts dispatch requests to the compute service. The
// timeout bounds the whole call; no database lock is held while the
// request is in flight.
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch classifies failures: transport errors and timeouts as
// UpstreamUnavailable, non-2xx answers as UpstreamRejected.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return apperr.UpstreamUnavailable(err, "compute service unreachable for job %s", req.JobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperr.UpstreamRejected("compute service rejected job %s: status %d: %s",
			req.JobID, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
