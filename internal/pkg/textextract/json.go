package textextract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type jsonField struct {
	key   string
	value interface{}
}

// jsonObject keeps keys in document order.
type jsonObject []jsonField

// JSONToText renders a JSON document as indented "key: value" lines with
// array items as "- item", keeping object keys in document order.
func JSONToText(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	value, err := decodeOrdered(dec)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return "", fmt.Errorf("%w: trailing data after json value", ErrInvalidFormat)
	}
	return renderJSON(value, "", 0), nil
}

func decodeOrdered(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := jsonObject{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := keyTok.(string)
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				obj = append(obj, jsonField{key: key, value: value})
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []interface{}{}
			for dec.More() {
				value, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, value)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return tok, nil
	}
}

func renderJSON(value interface{}, key string, depth int) string {
	indent := strings.Repeat("  ", depth)
	prefix := ""
	header := ""
	if key != "" {
		prefix = key + ": "
		header = key + ":\n"
	}

	switch v := value.(type) {
	case nil:
		return prefix + "null"
	case jsonObject:
		if len(v) == 0 {
			return prefix + "{}"
		}
		lines := make([]string, len(v))
		for i, f := range v {
			lines[i] = indent + "  " + renderJSON(f.value, f.key, depth+1)
		}
		return header + strings.Join(lines, "\n")
	case []interface{}:
		if len(v) == 0 {
			return prefix + "[]"
		}
		lines := make([]string, len(v))
		for i, item := range v {
			lines[i] = indent + "  - " + renderJSON(item, "", depth+1)
		}
		return header + strings.Join(lines, "\n")
	default:
		return prefix + fmt.Sprint(v)
	}
}
