package probe

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
)

// serverPort extracts the listening port of an httptest server.
func serverPort(t *testing.T, srv *httptest.Server) int {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return p
}

// fakeContainer serves log lines and a running flag computed from the
// current fake time.
type fakeContainer struct {
	mu       sync.Mutex
	logs     func() []string
	running  func() (bool, int)
	logCalls int
}

func (f *fakeContainer) Logs(ctx context.Context, n int) ([]string, error) {
	f.mu.Lock()
	f.logCalls++
	f.mu.Unlock()
	if f.logs == nil {
		return nil, nil
	}
	lines := f.logs()
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

func (f *fakeContainer) Running(ctx context.Context) (bool, int, error) {
	if f.running == nil {
		return true, 0, nil
	}
	r, c := f.running()
	return r, c, nil
}
