// ABOUTME: Tests for the XML-RPC codec
// ABOUTME: Covers value encoding, response and fault decoding

package odoo

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToString(t *testing.T, v any) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, encodeValue(&buf, v))
	return buf.String()
}

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `<value><nil/></value>`},
		{"true", true, `<value><boolean>1</boolean></value>`},
		{"int", 42, `<value><int>42</int></value>`},
		{"large int", int64(1) << 40, `<value><i8>1099511627776</i8></value>`},
		{"integral float", float64(7), `<value><int>7</int></value>`},
		{"float", 1.5, `<value><double>1.5</double></value>`},
		{"json number", json.Number("12"), `<value><int>12</int></value>`},
		{"escaped string", "a<b&c", `<value><string>a&lt;b&amp;c</string></value>`},
		{"int64 slice", []int64{1, 2}, `<value><array><data><value><int>1</int></value><value><int>2</int></value></data></array></value>`},
		{"string slice", []string{"x"}, `<value><array><data><value><string>x</string></value></data></array></value>`},
		{"time", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC), `<value><dateTime.iso8601>20260304T05:06:07</dateTime.iso8601></value>`},
		{
			"struct sorted",
			map[string]any{"b": 1, "a": "x"},
			`<value><struct><member><name>a</name><value><string>x</string></value></member><member><name>b</name><value><int>1</int></value></member></struct></value>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, encodeToString(t, tt.in))
		})
	}
}

func TestEncodeValue_Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := encodeValue(&buf, map[int]string{1: "x"})
	assert.Error(t, err)
}

func TestEncodeMethodCall(t *testing.T) {
	body, err := encodeMethodCall("execute_kw", "db", int64(2), []any{})
	require.NoError(t, err)

	s := string(body)
	assert.True(t, strings.HasPrefix(s, `<?xml version="1.0"?><methodCall><methodName>execute_kw</methodName>`))
	assert.Contains(t, s, `<param><value><string>db</string></value></param>`)
	assert.Contains(t, s, `<param><value><int>2</int></value></param>`)
	assert.Contains(t, s, `<param><value><array><data></data></array></value></param>`)
}

func TestDecodeResponse(t *testing.T) {
	doc := `<?xml version="1.0"?>
<methodResponse>
  <params>
    <param>
      <value><array><data>
        <value><struct>
          <member><name>id</name><value><int>7</int></value></member>
          <member><name>name</name><value><string>Ada &amp; Co</string></value></member>
          <member><name>active</name><value><boolean>1</boolean></value></member>
          <member><name>credit</name><value><double>12.5</double></value></member>
          <member><name>parent_id</name><value><boolean>0</boolean></value></member>
          <member><name>ref</name><value>bare text</value></member>
          <member><name>note</name><value><nil/></value></member>
        </struct></value>
      </data></array></value>
    </param>
  </params>
</methodResponse>`

	v, err := decodeResponse(strings.NewReader(doc))
	require.NoError(t, err)

	list, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	rec := list[0].(map[string]any)
	assert.Equal(t, int64(7), rec["id"])
	assert.Equal(t, "Ada & Co", rec["name"])
	assert.Equal(t, true, rec["active"])
	assert.Equal(t, 12.5, rec["credit"])
	assert.Equal(t, false, rec["parent_id"])
	assert.Equal(t, "bare text", rec["ref"])
	assert.Nil(t, rec["note"])
	assert.Contains(t, rec, "note")
}

func TestDecodeResponse_Fault(t *testing.T) {
	doc := `<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><int>1</int></value></member>
  <member><name>faultString</name><value><string>odoo.exceptions.MissingError
Record does not exist or has been deleted.</string></value></member>
</struct></value></fault></methodResponse>`

	_, err := decodeResponse(strings.NewReader(doc))
	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "odoo.exceptions.MissingError", f.Code)
	assert.True(t, f.Missing())
	assert.ErrorIs(t, classifyFault(f), ErrRecordNotFound)
}

func TestDecodeResponse_AccessDeniedFault(t *testing.T) {
	doc := `<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><int>3</int></value></member>
  <member><name>faultString</name><value><string>Access Denied</string></value></member>
</struct></value></fault></methodResponse>`

	_, err := decodeResponse(strings.NewReader(doc))
	var f *Fault
	require.ErrorAs(t, err, &f)
	assert.ErrorIs(t, classifyFault(f), ErrAuthentication)
}

func TestDecodeResponse_Malformed(t *testing.T) {
	_, err := decodeResponse(strings.NewReader(`<methodResponse><params><param><value><int>abc</int></value>`))
	assert.Error(t, err)

	_, err = decodeResponse(strings.NewReader(``))
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	in := map[string]any{
		"ids":    []any{int64(1), int64(2)},
		"name":   "x",
		"nested": map[string]any{"ok": true},
	}
	var buf bytes.Buffer
	buf.WriteString(`<methodResponse><params><param>`)
	require.NoError(t, encodeValue(&buf, in))
	buf.WriteString(`</param></params></methodResponse>`)

	out, err := decodeResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
