// ABOUTME: In-process fake Odoo server speaking XML-RPC and JSON-2 for client tests
// ABOUTME: Keeps records in memory and supports failure injection, delays and token expiry

package odoo

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	fakeDB       = "testdb"
	fakeUser     = "admin"
	fakePassword = "secret"
	fakeUID      = int64(2)
)

type fakeOdoo struct {
	mu sync.Mutex

	// version is served by /web/webclient/version_info; empty means 404.
	version string

	records map[string]map[int64]map[string]any
	nextID  int64
	tokens  map[string]bool

	requests     int
	versionCalls int
	authCalls    int
	execCalls    int

	// failNext makes the next N requests answer failStatus.
	failNext   int
	failStatus int
	// denyNextExec makes the next XML execute_kw answer an AccessDenied fault.
	denyNextExec bool
	authDelay    time.Duration
	execDelay    time.Duration

	srv *httptest.Server
}

func newFakeOdoo(t *testing.T, version string) *fakeOdoo {
	t.Helper()
	f := &fakeOdoo{
		version: version,
		records: map[string]map[int64]map[string]any{
			"ir.model": {
				1: {"id": int64(1), "model": "res.partner", "name": "Contact"},
				2: {"id": int64(2), "model": "sale.order", "name": "Sales Order"},
			},
		},
		nextID: 100,
		tokens: map[string]bool{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOdoo) URL() string { return f.srv.URL }

func (f *fakeOdoo) counts() (requests, versions, auths, execs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.versionCalls, f.authCalls, f.execCalls
}

func (f *fakeOdoo) expireTokens() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = map[string]bool{}
}

func (f *fakeOdoo) failRequests(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failStatus = status
}

func (f *fakeOdoo) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests++
	if f.failNext > 0 {
		f.failNext--
		status := f.failStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/web/webclient/version_info":
		f.serveVersion(w)
	case r.URL.Path == "/xmlrpc/2/common":
		f.serveXMLCommon(w, r)
	case r.URL.Path == "/xmlrpc/2/object":
		f.serveXMLObject(w, r)
	case r.URL.Path == "/json/2/auth":
		f.serveJSONAuth(w, r)
	case strings.HasPrefix(r.URL.Path, "/json/2/"):
		f.serveJSONCall(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOdoo) serveVersion(w http.ResponseWriter) {
	f.mu.Lock()
	f.versionCalls++
	version := f.version
	f.mu.Unlock()

	if version == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	major, _ := majorFromString(version)
	writeJSON(w, http.StatusOK, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result": map[string]any{
			"server_version":      version,
			"server_version_info": []any{major, 0, 0, "final", 0, ""},
		},
	})
}

func (f *fakeOdoo) serveXMLCommon(w http.ResponseWriter, r *http.Request) {
	method, params, err := parseMethodCall(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch method {
	case "version":
		writeXMLResponse(w, map[string]any{"server_version": f.version})
	case "authenticate":
		f.mu.Lock()
		f.authCalls++
		delay := f.authDelay
		f.mu.Unlock()
		time.Sleep(delay)

		if len(params) == 4 && params[0] == fakeDB && params[1] == fakeUser && params[2] == fakePassword {
			writeXMLResponse(w, fakeUID)
			return
		}
		writeXMLResponse(w, false)
	default:
		writeXMLFault(w, 1, "unknown method "+method)
	}
}

func (f *fakeOdoo) serveXMLObject(w http.ResponseWriter, r *http.Request) {
	method, params, err := parseMethodCall(r.Body)
	if err != nil || method != "execute_kw" || len(params) < 6 {
		writeXMLFault(w, 1, "bad execute_kw call")
		return
	}

	f.mu.Lock()
	deny := f.denyNextExec
	f.denyNextExec = false
	f.mu.Unlock()
	if deny || params[0] != fakeDB || params[2] != fakePassword {
		writeXMLFault(w, 3, "Access Denied")
		return
	}

	model, _ := params[3].(string)
	name, _ := params[4].(string)
	args, _ := params[5].([]any)
	kwargs := map[string]any{}
	if len(params) > 6 {
		kwargs, _ = params[6].(map[string]any)
	}

	result, fault := f.execute(model, name, args, kwargs)
	if fault != "" {
		writeXMLFault(w, 2, fault)
		return
	}
	writeXMLResponse(w, result)
}

func (f *fakeOdoo) serveJSONAuth(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.authCalls++
	delay := f.authDelay
	major, _ := majorFromString(f.version)
	isJSON := major >= 19
	f.mu.Unlock()
	time.Sleep(delay)

	if !isJSON {
		http.NotFound(w, r)
		return
	}

	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad body"})
		return
	}
	if body["db"] != fakeDB || body["login"] != fakeUser || body["password"] != fakePassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid credentials"})
		return
	}

	f.mu.Lock()
	token := fmt.Sprintf("tok-%d", f.authCalls)
	f.tokens[token] = true
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "uid": fakeUID})
}

func (f *fakeOdoo) serveJSONCall(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	valid := f.tokens[token]
	f.mu.Unlock()
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"name": "odoo.exceptions.AccessDenied", "message": "session expired"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/json/2/"), "/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "bad body"})
		return
	}
	body = normalizeNumbers(body).(map[string]any)
	args, _ := body["args"].([]any)
	kwargs, _ := body["kwargs"].(map[string]any)

	result, fault := f.execute(parts[0], parts[1], args, kwargs)
	if fault != "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"name": "odoo.exceptions.UserError", "message": fault})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// execute applies a model method to the in-memory records.
func (f *fakeOdoo) execute(model, method string, args []any, kwargs map[string]any) (any, string) {
	f.mu.Lock()
	f.execCalls++
	delay := f.execDelay
	f.mu.Unlock()
	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()

	table, ok := f.records[model]
	if !ok && model != "res.partner" {
		return nil, fmt.Sprintf("Object %s doesn't exist", model)
	}
	if !ok {
		table = map[int64]map[string]any{}
		f.records[model] = table
	}

	switch method {
	case "search_read":
		var domain []any
		if len(args) > 0 {
			domain, _ = args[0].([]any)
		}
		ids := f.match(table, domain)
		out := []any{}
		for _, id := range ids {
			out = append(out, project(table[id], kwargs["fields"]))
		}
		if limit, ok := kwargs["limit"].(int64); ok && int(limit) < len(out) {
			out = out[:limit]
		}
		return out, ""
	case "search":
		domain, _ := args[0].([]any)
		out := []any{}
		for _, id := range f.match(table, domain) {
			out = append(out, id)
		}
		return out, ""
	case "read":
		out := []any{}
		for _, id := range int64s(args[0]) {
			if rec, ok := table[id]; ok {
				out = append(out, project(rec, kwargs["fields"]))
			}
		}
		return out, ""
	case "create":
		vals, _ := args[0].(map[string]any)
		f.nextID++
		rec := map[string]any{"id": f.nextID}
		for k, v := range vals {
			rec[k] = v
		}
		table[f.nextID] = rec
		return f.nextID, ""
	case "write":
		vals, _ := args[1].(map[string]any)
		for _, id := range int64s(args[0]) {
			rec, ok := table[id]
			if !ok {
				return nil, "Record does not exist or has been deleted."
			}
			for k, v := range vals {
				rec[k] = v
			}
		}
		return true, ""
	case "unlink":
		for _, id := range int64s(args[0]) {
			if _, ok := table[id]; !ok {
				return nil, "Record does not exist or has been deleted."
			}
			delete(table, id)
		}
		return true, ""
	case "fields_get":
		return map[string]any{
			"name":  map[string]any{"type": "char", "string": "Name"},
			"email": map[string]any{"type": "char", "string": "Email"},
		}, ""
	default:
		return nil, fmt.Sprintf("The method '%s' does not exist on the model '%s'", method, model)
	}
}

// match supports only [field, "=", value] and ["id", "in", ids] terms.
func (f *fakeOdoo) match(table map[int64]map[string]any, domain []any) []int64 {
	var ids []int64
	for id, rec := range table {
		ok := true
		for _, term := range domain {
			triple, isTriple := term.([]any)
			if !isTriple || len(triple) != 3 {
				continue
			}
			field, _ := triple[0].(string)
			switch triple[1] {
			case "=":
				if field == "transient" {
					continue
				}
				if fmt.Sprint(rec[field]) != fmt.Sprint(triple[2]) {
					ok = false
				}
			case "in":
				found := false
				for _, want := range int64s(triple[2]) {
					if field == "id" && want == id {
						found = true
					}
				}
				if !found {
					ok = false
				}
			}
		}
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func project(rec map[string]any, fields any) map[string]any {
	names, _ := fields.([]any)
	if len(names) == 0 {
		out := make(map[string]any, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		return out
	}
	out := map[string]any{"id": rec["id"]}
	for _, n := range names {
		if s, ok := n.(string); ok {
			out[s] = rec[s]
		}
	}
	return out
}

func int64s(v any) []int64 {
	list, _ := v.([]any)
	out := make([]int64, 0, len(list))
	for _, item := range list {
		if id, ok := toInt64(item); ok {
			out = append(out, id)
		}
	}
	return out
}

// parseMethodCall decodes a methodCall document into its name and params.
func parseMethodCall(r io.Reader) (string, []any, error) {
	d := xml.NewDecoder(r)
	var method string
	var params []any
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return method, params, nil
		}
		if err != nil {
			return "", nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "methodName":
			method, err = readText(d)
			if err != nil {
				return "", nil, err
			}
		case "value":
			v, err := decodeValue(d)
			if err != nil {
				return "", nil, err
			}
			params = append(params, v)
		}
	}
}

func writeXMLResponse(w http.ResponseWriter, v any) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?><methodResponse><params><param>`)
	if err := encodeValue(&buf, v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	buf.WriteString(`</param></params></methodResponse>`)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(buf.Bytes())
}

func writeXMLFault(w http.ResponseWriter, code int, msg string) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?><methodResponse><fault>`)
	_ = encodeValue(&buf, map[string]any{"faultCode": code, "faultString": msg})
	buf.WriteString(`</fault></methodResponse>`)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write(buf.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
