package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// cannedTransport answers requests from a scenario's response table.
// It never opens a connection.
type cannedTransport struct {
	responses []CannedResponse
	onRequest func(req Request, status int)
}

func (t *cannedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := Request{Method: req.Method, URL: req.URL.String(), Header: req.Header.Clone()}
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		rec.Body = string(data)
	}

	canned, ok := t.match(req.Method, req.URL)
	if !ok {
		t.onRequest(rec, 0)
		return nil, fmt.Errorf("no canned response for %s %s", req.Method, stripQuery(req.URL))
	}

	if canned.DelayMs > 0 {
		timer := time.NewTimer(time.Duration(canned.DelayMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			t.onRequest(rec, 0)
			return nil, req.Context().Err()
		}
	}

	status := canned.Status
	if status == 0 {
		status = http.StatusOK
	}
	body, contentType, err := encodeCannedBody(canned.Body)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	for k, v := range canned.Headers {
		header.Set(k, v)
	}
	if contentType != "" && header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentType)
	}

	t.onRequest(rec, status)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// match returns the first response whose method and URL fit the request.
func (t *cannedTransport) match(method string, u *url.URL) (CannedResponse, bool) {
	for _, r := range t.responses {
		if methodMatches(r.Method, method) && urlMatches(r.URL, u.String()) {
			return r, true
		}
	}
	return CannedResponse{}, false
}

func methodMatches(want, got string) bool {
	return want == "" || strings.EqualFold(want, got)
}

// urlMatches compares exactly, except that a pattern without a query
// matches any query.
func urlMatches(pattern, raw string) bool {
	if pattern == raw {
		return true
	}
	if strings.Contains(pattern, "?") {
		return false
	}
	base, _, _ := strings.Cut(raw, "?")
	return pattern == base
}

// stripQuery drops the query string, which often carries credentials.
func stripQuery(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

func encodeCannedBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(b), "text/plain; charset=utf-8", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encode canned body: %w", err)
	}
	return data, "application/json", nil
}
