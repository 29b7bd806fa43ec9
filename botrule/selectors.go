package botrule

import (
	"bytes"
	"encoding/json"
	"strings"
)

const selectorSep = ","

// removeSelectors decodes the removeSelector field leniently: only a JSON
// array is taken into account, anything else leaves the field unset.
// Scalars inside the array are kept as their literal text; null becomes "".
type removeSelectors []string

func (rs *removeSelectors) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*rs = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		switch {
		case json.Unmarshal(it, &s) == nil:
		case string(it) == "null":
			s = ""
		default:
			s = string(it)
		}
		out = append(out, s)
	}
	*rs = out
	return nil
}

// joinSelectors and splitSelectors are the only places that know removeSelector
// is persisted as one comma-joined column.
func joinSelectors(sels []string) *string {
	if len(sels) == 0 {
		return nil
	}
	s := strings.Join(sels, selectorSep)
	return &s
}

func splitSelectors(s *string) []string {
	if s == nil || *s == "" {
		return nil
	}
	return strings.Split(*s, selectorSep)
}
