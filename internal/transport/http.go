package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"pipesync/internal/change"
)

const (
	eventsPath   = "/v1/events"
	entitiesPath = "/v1/entities"
)

// HTTPSource reads topic streams over HTTP as newline-delimited JSON.
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var (
	_ Source = (*HTTPSource)(nil)
	_ Lister = (*HTTPSource)(nil)
)

// NewHTTPSource returns a source for the server at baseURL. A nil client
// falls back to http.DefaultClient. The token, if any, is sent as a bearer
// token.
func NewHTTPSource(baseURL, token string, client *http.Client) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: client,
	}
}

func (s *HTTPSource) newRequest(ctx context.Context, path, topic, accept string) (*http.Request, error) {
	u := s.baseURL + path + "?topic=" + url.QueryEscape(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

func (s *HTTPSource) do(req *http.Request) (*http.Response, error) {
	httpClient := s.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) // best-effort, bounded
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return resp, nil
}

func (s *HTTPSource) Open(ctx context.Context, topic string) (Stream, error) {
	req, err := s.newRequest(ctx, eventsPath, topic, "application/x-ndjson")
	if err != nil {
		return nil, fmt.Errorf("create %s stream request: %w", topic, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", topic, err)
	}
	return &httpStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// List fetches the current entities of topic. Entries are returned as
// create events.
func (s *HTTPSource) List(ctx context.Context, topic string) ([]change.Wire, error) {
	req, err := s.newRequest(ctx, entitiesPath, topic, "application/json")
	if err != nil {
		return nil, fmt.Errorf("create %s list request: %w", topic, err)
	}
	resp, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", topic, err)
	}
	defer resp.Body.Close()

	var out []change.Wire
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s list: %w", topic, err)
	}
	for i := range out {
		out[i].Kind = change.KindCreate.String()
	}
	return out, nil
}

type httpStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *httpStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	line, err := s.reader.ReadBytes('\n')
	if err != nil {
		if len(line) > 0 && err == io.EOF {
			return line, nil
		}
		return nil, err
	}
	return line, nil
}

func (s *httpStream) Close() error {
	return s.body.Close()
}
