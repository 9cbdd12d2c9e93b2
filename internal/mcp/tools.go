// ABOUTME: The fixed MCP tool set and its translation to backend operations
// ABOUTME: Each tool declares an input schema and maps its arguments 1:1 onto an odoo.Operation

package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/2389/odoo-bridge/internal/odoo"
)

// defaultFieldAttributes limits fields_get output to what a caller needs
// to build valid values.
var defaultFieldAttributes = []string{"string", "type", "required", "readonly", "relation", "selection", "help"}

// tool is one entry of the tool table.
type tool struct {
	info  MCPToolInfo
	build func(args json.RawMessage) (odoo.Operation, error)
	shape func(res *odoo.Result) map[string]any
}

// recordArgs covers every tool's arguments; each tool reads the fields it
// declares in its schema.
type recordArgs struct {
	Model      string         `json:"model"`
	ID         int64          `json:"id"`
	IDs        []int64        `json:"ids"`
	Domain     []any          `json:"domain"`
	Fields     []string       `json:"fields"`
	Values     map[string]any `json:"values"`
	Limit      int            `json:"limit"`
	Offset     int            `json:"offset"`
	Order      string         `json:"order"`
	Method     string         `json:"method"`
	Args       []any          `json:"args"`
	Kwargs     map[string]any `json:"kwargs"`
	Attributes []string       `json:"attributes"`
}

func (a recordArgs) ids() []int64 {
	if a.ID != 0 {
		return append([]int64{a.ID}, a.IDs...)
	}
	return a.IDs
}

func parseArgs(raw json.RawMessage) (recordArgs, error) {
	var a recordArgs
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return a, fmt.Errorf("invalid arguments: %w", err)
	}
	return a, nil
}

const (
	modelProp  = `"model": {"type": "string", "description": "Technical model name, e.g. res.partner"}`
	idProp     = `"id": {"type": "integer", "minimum": 1, "description": "Record ID"}`
	idsProp    = `"ids": {"type": "array", "items": {"type": "integer", "minimum": 1}, "description": "Record IDs"}`
	fieldsProp = `"fields": {"type": "array", "items": {"type": "string"}, "description": "Fields to return; all when omitted"}`
	valuesProp = `"values": {"type": "object", "description": "Field values keyed by field name"}`
)

func schema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	if len(required) == 0 {
		req = []byte("[]")
	}
	return json.RawMessage(`{"type": "object", "properties": {` + props + `}, "required": ` + string(req) + `, "additionalProperties": false}`)
}

func joinProps(props ...string) string {
	var b bytes.Buffer
	for i, p := range props {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p)
	}
	return b.String()
}

var toolTable = []tool{
	{
		info: MCPToolInfo{
			Name:        "odoo_search_records",
			Description: "Search records of a model with an Odoo domain filter. Returns matching records.",
			InputSchema: schema(joinProps(
				modelProp,
				`"domain": {"type": "array", "description": "Odoo domain, e.g. [[\"is_company\", \"=\", true]]"}`,
				fieldsProp,
				`"limit": {"type": "integer", "minimum": 0, "maximum": 10000}`,
				`"offset": {"type": "integer", "minimum": 0}`,
				`"order": {"type": "string", "description": "Sort clause, e.g. \"name asc, id desc\""}`,
			), "model"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return odoo.Operation{
				Kind: odoo.KindRead, Model: a.Model, Domain: a.Domain, Fields: a.Fields,
				Limit: a.Limit, Offset: a.Offset, Order: a.Order,
			}, err
		},
		shape: recordsShape,
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_read_record",
			Description: "Read one or more records by ID.",
			InputSchema: schema(joinProps(modelProp, idProp, idsProp, fieldsProp), "model"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			if err == nil && len(a.ids()) == 0 {
				err = fmt.Errorf("id or ids is required")
			}
			return odoo.Operation{Kind: odoo.KindRead, Model: a.Model, IDs: a.ids(), Fields: a.Fields}, err
		},
		shape: recordsShape,
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_create_record",
			Description: "Create a record and return its ID.",
			InputSchema: schema(joinProps(modelProp, valuesProp), "model", "values"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return odoo.Operation{Kind: odoo.KindCreate, Model: a.Model, Values: a.Values}, err
		},
		shape: func(res *odoo.Result) map[string]any {
			out := map[string]any{"ids": nonNilIDs(res.IDs)}
			if len(res.IDs) == 1 {
				out["id"] = res.IDs[0]
			}
			return out
		},
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_update_record",
			Description: "Update fields on existing records.",
			InputSchema: schema(joinProps(modelProp, idProp, idsProp, valuesProp), "model", "values"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return odoo.Operation{Kind: odoo.KindWrite, Model: a.Model, IDs: a.ids(), Values: a.Values}, err
		},
		shape: idsShape,
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_delete_record",
			Description: "Delete records by ID. Deleting a record that no longer exists is an error.",
			InputSchema: schema(joinProps(modelProp, idProp, idsProp), "model"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return odoo.Operation{Kind: odoo.KindDelete, Model: a.Model, IDs: a.ids()}, err
		},
		shape: idsShape,
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_list_models",
			Description: "List the models available on the backend.",
			InputSchema: schema(""),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			_, err := parseArgs(raw)
			return odoo.Operation{Kind: odoo.KindListModels}, err
		},
		shape: func(res *odoo.Result) map[string]any {
			return map[string]any{"models": nonNilRecords(res.Records), "count": len(res.Records)}
		},
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_call_method",
			Description: "Call a public model method. When ids are given they are passed as the first argument.",
			InputSchema: schema(joinProps(
				modelProp,
				`"method": {"type": "string", "description": "Public method name"}`,
				idsProp,
				`"args": {"type": "array", "description": "Positional arguments"}`,
				`"kwargs": {"type": "object", "description": "Keyword arguments"}`,
			), "model", "method"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return odoo.Operation{
				Kind: odoo.KindCallMethod, Model: a.Model, Method: a.Method,
				IDs: a.IDs, Args: a.Args, Kwargs: a.Kwargs,
			}, err
		},
		shape: valueShape("result"),
	},
	{
		info: MCPToolInfo{
			Name:        "odoo_get_model_fields",
			Description: "Describe the fields of a model.",
			InputSchema: schema(joinProps(
				modelProp,
				`"attributes": {"type": "array", "items": {"type": "string"}, "description": "Field attributes to include"}`,
			), "model"),
		},
		build: func(raw json.RawMessage) (odoo.Operation, error) {
			a, err := parseArgs(raw)
			return fieldsOperation(a.Model, a.Attributes), err
		},
		shape: valueShape("fields"),
	},
}

var toolsByName = func() map[string]*tool {
	m := make(map[string]*tool, len(toolTable))
	for i := range toolTable {
		m[toolTable[i].info.Name] = &toolTable[i]
	}
	return m
}()

// ToolNames returns the names of all tools in declaration order.
func ToolNames() []string {
	names := make([]string, len(toolTable))
	for i, t := range toolTable {
		names[i] = t.info.Name
	}
	return names
}

// fieldsOperation builds the fields_get call behind odoo_get_model_fields.
func fieldsOperation(model string, attributes []string) odoo.Operation {
	if len(attributes) == 0 {
		attributes = defaultFieldAttributes
	}
	return odoo.Operation{
		Kind:   odoo.KindCallMethod,
		Model:  model,
		Method: "fields_get",
		Kwargs: map[string]any{"attributes": attributes},
	}
}

func recordsShape(res *odoo.Result) map[string]any {
	return map[string]any{"records": nonNilRecords(res.Records), "count": len(res.Records)}
}

func idsShape(res *odoo.Result) map[string]any {
	return map[string]any{"success": true, "ids": nonNilIDs(res.IDs)}
}

func valueShape(key string) func(res *odoo.Result) map[string]any {
	return func(res *odoo.Result) map[string]any {
		return map[string]any{key: res.Value}
	}
}

func nonNilRecords(r []map[string]any) []map[string]any {
	if r == nil {
		return []map[string]any{}
	}
	return r
}

func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
