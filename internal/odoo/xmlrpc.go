// ABOUTME: Minimal XML-RPC codec for the Odoo /xmlrpc/2 endpoints
// ABOUTME: Encodes method calls from Go values and decodes responses and faults into generic values

package odoo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

const xmlrpcTimeFormat = "20060102T15:04:05"

// encodeMethodCall renders a methodCall document.
func encodeMethodCall(method string, params ...any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?><methodCall><methodName>`)
	if err := xml.EscapeText(&buf, []byte(method)); err != nil {
		return nil, err
	}
	buf.WriteString(`</methodName><params>`)
	for i, p := range params {
		buf.WriteString(`<param>`)
		if err := encodeValue(&buf, p); err != nil {
			return nil, fmt.Errorf("encoding param %d: %w", i, err)
		}
		buf.WriteString(`</param>`)
	}
	buf.WriteString(`</params></methodCall>`)
	return buf.Bytes(), nil
}

// encodeValue writes v as a <value> element.
func encodeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString(`<value>`)
	if err := encodeInner(buf, v); err != nil {
		return err
	}
	buf.WriteString(`</value>`)
	return nil
}

func encodeInner(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString(`<nil/>`)
	case bool:
		if t {
			buf.WriteString(`<boolean>1</boolean>`)
		} else {
			buf.WriteString(`<boolean>0</boolean>`)
		}
	case string:
		buf.WriteString(`<string>`)
		if err := xml.EscapeText(buf, []byte(t)); err != nil {
			return err
		}
		buf.WriteString(`</string>`)
	case int:
		writeInt(buf, int64(t))
	case int32:
		writeInt(buf, int64(t))
	case int64:
		writeInt(buf, t)
	case float32:
		writeFloat(buf, float64(t))
	case float64:
		// JSON front doors decode every number as float64; keep integral values integers
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			writeInt(buf, int64(t))
		} else {
			writeFloat(buf, t)
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			writeInt(buf, i)
			return nil
		}
		f, err := t.Float64()
		if err != nil {
			return fmt.Errorf("invalid number %q", t)
		}
		writeFloat(buf, f)
	case []byte:
		buf.WriteString(`<base64>`)
		buf.WriteString(base64.StdEncoding.EncodeToString(t))
		buf.WriteString(`</base64>`)
	case time.Time:
		buf.WriteString(`<dateTime.iso8601>`)
		buf.WriteString(t.UTC().Format(xmlrpcTimeFormat))
		buf.WriteString(`</dateTime.iso8601>`)
	case []any:
		buf.WriteString(`<array><data>`)
		for _, item := range t {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString(`</data></array>`)
	case map[string]any:
		return encodeStruct(buf, t)
	default:
		return encodeReflect(buf, reflect.ValueOf(v))
	}
	return nil
}

func encodeReflect(buf *bytes.Buffer, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			buf.WriteString(`<nil/>`)
			return nil
		}
		return encodeInner(buf, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return encodeInner(buf, items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return encodeStruct(buf, m)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt(buf, rv.Int())
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		writeInt(buf, int64(rv.Uint()))
		return nil
	case reflect.String:
		return encodeInner(buf, rv.String())
	case reflect.Bool:
		return encodeInner(buf, rv.Bool())
	case reflect.Float32, reflect.Float64:
		writeFloat(buf, rv.Float())
		return nil
	default:
		return fmt.Errorf("unsupported xml-rpc type %s", rv.Type())
	}
}

func encodeStruct(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteString(`<struct>`)
	for _, k := range keys {
		buf.WriteString(`<member><name>`)
		if err := xml.EscapeText(buf, []byte(k)); err != nil {
			return err
		}
		buf.WriteString(`</name>`)
		if err := encodeValue(buf, m[k]); err != nil {
			return fmt.Errorf("member %q: %w", k, err)
		}
		buf.WriteString(`</member>`)
	}
	buf.WriteString(`</struct>`)
	return nil
}

func writeInt(buf *bytes.Buffer, i int64) {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		buf.WriteString(`<int>`)
		buf.WriteString(strconv.FormatInt(i, 10))
		buf.WriteString(`</int>`)
		return
	}
	buf.WriteString(`<i8>`)
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteString(`</i8>`)
}

func writeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteString(`<double>`)
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	buf.WriteString(`</double>`)
}

// decodeResponse parses a methodResponse. A fault is returned as *Fault.
func decodeResponse(r io.Reader) (any, error) {
	d := xml.NewDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil, errors.New("xml-rpc: empty response")
		}
		if err != nil {
			return nil, fmt.Errorf("xml-rpc: reading response: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "value":
			v, err := decodeValue(d)
			if err != nil {
				return nil, fmt.Errorf("xml-rpc: %w", err)
			}
			return v, nil
		case "fault":
			return nil, decodeFault(d)
		}
	}
}

func decodeFault(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return fmt.Errorf("xml-rpc: reading fault: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "value" {
			continue
		}
		v, err := decodeValue(d)
		if err != nil {
			return fmt.Errorf("xml-rpc: decoding fault: %w", err)
		}
		m, _ := v.(map[string]any)
		f := &Fault{Message: fmt.Sprint(m["faultString"])}
		switch code := m["faultCode"].(type) {
		case int64:
			f.Code = strconv.FormatInt(code, 10)
		case string:
			f.Code = code
		}
		// Odoo puts the exception class in the first line of faultString
		if f.Code == "" || f.Code == "1" {
			if name, _, ok := strings.Cut(f.Message, "\n"); ok && strings.HasPrefix(name, "odoo.") {
				f.Code = name
			}
		}
		return f
	}
}

// decodeValue parses the body of a <value> element whose start tag has been consumed.
func decodeValue(d *xml.Decoder) (any, error) {
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			v, err := decodeTyped(d, t)
			if err != nil {
				return nil, err
			}
			if err := skipToEnd(d); err != nil {
				return nil, err
			}
			return v, nil
		case xml.EndElement:
			// untyped <value>text</value> is a string
			return text.String(), nil
		}
	}
}

func decodeTyped(d *xml.Decoder, se xml.StartElement) (any, error) {
	switch se.Name.Local {
	case "string", "dateTime.iso8601":
		return readText(d)
	case "base64":
		s, err := readText(d)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	case "int", "i4", "i8":
		s, err := readText(d)
		if err != nil {
			return nil, err
		}
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return i, nil
	case "boolean":
		s, err := readText(d)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s) == "1", nil
	case "double":
		s, err := readText(d)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", s)
		}
		return f, nil
	case "nil":
		if _, err := readText(d); err != nil {
			return nil, err
		}
		return nil, nil
	case "array":
		return decodeArray(d)
	case "struct":
		return decodeStruct(d)
	default:
		return nil, fmt.Errorf("unsupported xml-rpc type <%s>", se.Name.Local)
	}
}

func decodeArray(d *xml.Decoder) ([]any, error) {
	items := []any{}
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "value" {
				v, err := decodeValue(d)
				if err != nil {
					return nil, err
				}
				items = append(items, v)
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return items, nil
			}
		}
	}
}

func decodeStruct(d *xml.Decoder) (map[string]any, error) {
	m := map[string]any{}
	var name string
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				name, err = readText(d)
				if err != nil {
					return nil, err
				}
			case "value":
				v, err := decodeValue(d)
				if err != nil {
					return nil, err
				}
				m[name] = v
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return m, nil
			}
		}
	}
}

// readText collects character data up to the current element's end tag.
func readText(d *xml.Decoder) (string, error) {
	var text strings.Builder
	for {
		tok, err := d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			return "", fmt.Errorf("unexpected element <%s> in scalar", t.Name.Local)
		case xml.EndElement:
			return text.String(), nil
		}
	}
}

// skipToEnd consumes tokens through the end tag of the enclosing element.
func skipToEnd(d *xml.Decoder) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}
