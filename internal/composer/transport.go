package composer

import (
	"context"
	"net/http"
	"sync"
)

type statusRecorderKey struct{}

// statusRecorder keeps the status code of the most recent response seen for
// one Generate call.
type statusRecorder struct {
	mu     sync.Mutex
	status int
}

func (r *statusRecorder) set(code int) {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
}

func (r *statusRecorder) last() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func withStatusRecorder(ctx context.Context, rec *statusRecorder) context.Context {
	return context.WithValue(ctx, statusRecorderKey{}, rec)
}

// statusTransport records response codes into the recorder carried by the
// request context. langchaingo clients build requests with the caller's
// context, so the recorder travels with every provider request.
type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if rec, ok := req.Context().Value(statusRecorderKey{}).(*statusRecorder); ok {
			rec.set(resp.StatusCode)
		}
	}
	return resp, err
}

// withStatusRecording returns a copy of client whose transport records
// status codes. A nil client starts from http.DefaultClient.
func withStatusRecording(client *http.Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	wrapped := *client
	wrapped.Transport = &statusTransport{base: base}
	return &wrapped
}
