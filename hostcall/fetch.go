package hostcall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	agentrt "github.com/tonagent/runtime"
)

// FetchRequest is the shape of the fetch() host-call available to a
// synthesized artifact — deliberately narrower than the teacher's
// DynamicToolImpl: no command/path fields, because fetch can only ever reach
// the network, never the local filesystem or a subprocess.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// FetchResponse is what an artifact gets back from fetch().
type FetchResponse struct {
	StatusCode int
	Body       string
	Headers    map[string][]string
}

// Fetch performs an outbound HTTP request on behalf of the executing
// artifact, rate limited per agent (§5). It is the only way an artifact
// reaches the network — there is no raw socket or exec primitive anywhere in
// the Host-Call Surface.
func (s *Surface) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return FetchResponse{}, agentrt.WrapSandboxTimeout("fetch: rate limit wait: " + err.Error())
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != "" {
		bodyReader = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return FetchResponse{}, agentrt.WrapValidation(err, "fetch: malformed request")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if bodyReader != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return FetchResponse{}, agentrt.WrapIntegration(err, "fetch: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return FetchResponse{}, agentrt.WrapIntegration(err, "fetch: read response")
	}

	return FetchResponse{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Headers:    resp.Header,
	}, nil
}

// tonCenterBalanceResponse mirrors the relevant subset of toncenter's
// getAddressBalance response.
type tonCenterBalanceResponse struct {
	OK     bool   `json:"ok"`
	Result string `json:"result"`
}

// GetTONBalance reports the nanoton balance of a TON address, proxied
// through a toncenter-compatible HTTP API. There is no Go TON SDK in the
// grounding codebase, so this is built directly on net/http like fetch()
// rather than a dedicated client library — see DESIGN.md.
func (s *Surface) GetTONBalance(ctx context.Context, apiBase, address string) (string, error) {
	if apiBase == "" {
		apiBase = "https://toncenter.com/api/v2"
	}
	url := fmt.Sprintf("%s/getAddressBalance?address=%s", apiBase, address)

	resp, err := s.Fetch(ctx, FetchRequest{Method: http.MethodGet, URL: url})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", agentrt.WrapIntegration(nil, fmt.Sprintf("get_ton_balance: status %d", resp.StatusCode))
	}

	var parsed tonCenterBalanceResponse
	if err := json.Unmarshal([]byte(resp.Body), &parsed); err != nil {
		return "", agentrt.WrapIntegration(err, "get_ton_balance: malformed response")
	}
	if !parsed.OK {
		return "", agentrt.WrapIntegration(nil, "get_ton_balance: upstream reported not ok")
	}
	return parsed.Result, nil
}
