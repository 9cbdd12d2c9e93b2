// ABOUTME: JSON transport for the Odoo backend: version lookup and the /json/2 API
// ABOUTME: Handles bearer-token auth and maps HTTP statuses and error bodies to client errors

package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 64 << 20

// postJSON sends one JSON POST. Network failures and gateway statuses are
// returned as transient errors; the caller decides whether to retry.
func (c *Client) postJSON(ctx context.Context, url string, headers map[string]string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, c.transportError(ctx, err)
	}
	if isGatewayStatus(resp.StatusCode) {
		return resp.StatusCode, data, &transientError{err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return resp.StatusCode, data, nil
}

type versionInfoResponse struct {
	Result *struct {
		ServerVersion     string `json:"server_version"`
		ServerVersionInfo []any  `json:"server_version_info"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

// fetchVersion asks the web client version endpoint for the server version.
// It makes a single attempt: detection falls back rather than retrying.
func (c *Client) fetchVersion(ctx context.Context, baseURL string) (int, string, error) {
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  "call",
		"params":  map[string]any{},
		"id":      1,
	}
	status, data, err := c.postJSON(ctx, baseURL+"/web/webclient/version_info", nil, body)
	if err != nil {
		return 0, "", err
	}
	if status != http.StatusOK {
		return 0, "", fmt.Errorf("version endpoint returned status %d", status)
	}

	var resp versionInfoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, "", fmt.Errorf("decoding version info: %w", err)
	}
	if resp.Error != nil {
		return 0, "", fmt.Errorf("version endpoint error: %s", resp.Error.Message)
	}
	if resp.Result == nil {
		return 0, "", errors.New("version endpoint returned no result")
	}

	major, ok := majorFromInfo(resp.Result.ServerVersionInfo)
	if !ok {
		major, ok = majorFromString(resp.Result.ServerVersion)
	}
	if !ok {
		return 0, resp.Result.ServerVersion, fmt.Errorf("unrecognized server version %q", resp.Result.ServerVersion)
	}
	return major, resp.Result.ServerVersion, nil
}

func majorFromInfo(info []any) (int, bool) {
	if len(info) == 0 {
		return 0, false
	}
	switch v := info[0].(type) {
	case float64:
		return int(v), true
	case string:
		return majorFromString(v)
	}
	return 0, false
}

// majorFromString handles "17.0", "saas~17.2" and "19.0+e".
func majorFromString(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "saas~")
	head, _, _ := strings.Cut(s, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}

type jsonAuthResponse struct {
	AccessToken string `json:"access_token"`
	UID         int64  `json:"uid"`
}

// jsonAuthenticate exchanges credentials for a bearer token on /json/2/auth.
func (c *Client) jsonAuthenticate(ctx context.Context, baseURL string, creds Credentials) (int64, string, error) {
	body := map[string]any{
		"db":       creds.Database,
		"login":    creds.Username,
		"password": creds.Secret,
	}

	raw, err := c.retry(ctx, "json auth", true, func(ctx context.Context) (any, error) {
		status, data, err := c.postJSON(ctx, baseURL+"/json/2/auth", nil, body)
		if err != nil {
			return nil, err
		}
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return nil, ErrAuthentication
		case status != http.StatusOK:
			return nil, fmt.Errorf("%w: auth endpoint returned status %d", ErrUnavailable, status)
		}
		var resp jsonAuthResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: malformed auth response: %v", ErrAuthentication, err)
		}
		return resp, nil
	})
	if err != nil {
		return 0, "", err
	}

	resp := raw.(jsonAuthResponse)
	if resp.AccessToken == "" || resp.UID == 0 {
		return 0, "", ErrAuthentication
	}
	return resp.UID, resp.AccessToken, nil
}

// jsonExecute calls POST /json/2/<model>/<method> with {args, kwargs}.
func (c *Client) jsonExecute(ctx context.Context, sess *Session, model, method string, idempotent bool, args []any, kwargs map[string]any) (any, error) {
	url := fmt.Sprintf("%s/json/2/%s/%s", sess.BaseURL, model, method)
	headers := map[string]string{
		"Authorization":   "Bearer " + sess.token,
		"X-Odoo-Database": sess.Database,
	}
	body := map[string]any{
		"args":   args,
		"kwargs": kwargs,
	}

	return c.retry(ctx, model+"."+method, idempotent, func(ctx context.Context) (any, error) {
		status, data, err := c.postJSON(ctx, url, headers, body)
		if err != nil {
			return nil, err
		}
		return decodeJSON2Response(status, data)
	})
}

// decodeJSON2Response accepts both the bare-result form and the
// {"jsonrpc": "2.0", "result": ...} / {"error": {...}} envelope.
func decodeJSON2Response(status int, data []byte) (any, error) {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrAuthentication, errorMessage(data, status))
	}
	if status < 200 || status >= 300 {
		f := &Fault{Code: strconv.Itoa(status), Message: errorMessage(data, status)}
		if name := errorName(data); name != "" {
			f.Code = name
		}
		return nil, classifyFault(f)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// A dict is only an envelope when it carries jsonrpc or id. Anything else,
	// including a method result with a "result" key, is the value itself.
	if env, ok := v.(map[string]any); ok && isEnvelope(env) {
		if e, ok := env["error"]; ok && e != nil {
			f := &Fault{Message: fmt.Sprint(e)}
			if em, ok := e.(map[string]any); ok {
				if msg, ok := em["message"].(string); ok {
					f.Message = msg
				}
				if d, ok := em["data"].(map[string]any); ok {
					if name, ok := d["name"].(string); ok {
						f.Code = name
					}
				}
			}
			return nil, classifyFault(f)
		}
		return normalizeNumbers(env["result"]), nil
	}
	return normalizeNumbers(v), nil
}

func isEnvelope(m map[string]any) bool {
	_, rpc := m["jsonrpc"]
	_, id := m["id"]
	return rpc || id
}

func errorMessage(data []byte, status int) string {
	var body struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != nil && body.Error.Message != "" {
			return body.Error.Message
		}
	}
	return http.StatusText(status)
}

func errorName(data []byte) string {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		return body.Name
	}
	return ""
}

// normalizeNumbers converts json.Number into int64 or float64 so both
// variants hand the same Go types to callers.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalizeNumbers(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeNumbers(t[k])
		}
		return t
	default:
		return v
	}
}

func isGatewayStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
