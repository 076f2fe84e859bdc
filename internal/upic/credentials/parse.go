package credentials

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/upic/reader/internal/upic/types"
)

// Record keys the reader interprets. Everything else is carried in
// CredentialRecord.Extra.
const (
	KeyID             = "ID"
	KeyFullName       = "full_name"
	KeyOrganization   = "organization"
	KeyDepartment     = "department"
	KeyExpirationDate = "expiration_date"
	KeyIsTemporary    = "is_temporary"
)

// Separator is the line that separates records in the credential file.
const Separator = "---"

var (
	ErrMissingID  = errors.New("record has no ID")
	ErrNotMapping = errors.New("record is not a key: value mapping")
)

// ParseResult is the outcome of parsing one record block. Exactly one of
// Record (Err == nil) or Err is meaningful.
type ParseResult struct {
	// Line is the 1-based line number where the block starts.
	Line   int
	Record types.CredentialRecord
	Err    error

	// Warnings are non-fatal findings on a kept record.
	Warnings []string
}

// Parse splits r into record blocks and parses each one independently.
// A broken block yields a result with Err set; it never stops the scan of
// the remaining blocks. Blank blocks produce no result.
func Parse(r io.Reader) ([]ParseResult, error) {
	br := bufio.NewReader(r)

	var (
		results []ParseResult
		block   strings.Builder
		start   = 1
		line    = 0
	)

	flush := func() {
		text := block.String()
		block.Reset()
		if strings.TrimSpace(text) == "" {
			return
		}
		results = append(results, parseBlock(start, text))
	}

	for {
		// ReadString has no line length limit, so one oversized value
		// cannot cost the rest of the file.
		text, err := br.ReadString('\n')
		if text != "" {
			line++
			text = strings.TrimSuffix(strings.TrimSuffix(text, "\n"), "\r")
			if strings.TrimSpace(text) == Separator {
				flush()
				start = line + 1
			} else {
				block.WriteString(text)
				block.WriteByte('\n')
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return results, fmt.Errorf("read credential file: %w", err)
		}
	}
	flush()

	return results, nil
}

func parseBlock(line int, text string) ParseResult {
	res := ParseResult{Line: line}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		res.Err = fmt.Errorf("line %d: %w", line, err)
		return res
	}

	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		res.Err = fmt.Errorf("line %d: %w", line, ErrNotMapping)
		return res
	}

	var rec types.CredentialRecord
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]

		switch key {
		case KeyID:
			rec.ID = strings.TrimSpace(scalarText(val))
		case KeyFullName:
			rec.FullName = scalarText(val)
		case KeyOrganization:
			rec.Organization = scalarText(val)
		case KeyDepartment:
			rec.Department = scalarText(val)
		case KeyExpirationDate:
			applyExpiration(&rec, val)
		case KeyIsTemporary:
			b, ok := scalarBool(val)
			if !ok {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("is_temporary %q is not a boolean, treated as false", val.Value))
			}
			rec.IsTemporary = b
		default:
			rec.Extra = append(rec.Extra, types.Field{Key: key, Value: scalarValue(val)})
		}
	}

	if rec.ID == "" {
		res.Err = fmt.Errorf("line %d: %w", line, ErrMissingID)
		return res
	}
	if rec.IsTemporary && !rec.HasExpiration() {
		res.Warnings = append(res.Warnings, "temporary credential without expiration_date")
	}

	res.Record = rec
	return res
}

func applyExpiration(rec *types.CredentialRecord, val *yaml.Node) {
	if val.Kind == yaml.ScalarNode && val.ShortTag() == "!!null" {
		return
	}
	switch v := scalarValue(val).(type) {
	case types.Date:
		rec.ExpirationDate = &v
		rec.ExpirationRaw = val.Value
	case string:
		rec.ExpirationRaw = v
		if d, err := types.ParseDate(v); err == nil {
			rec.ExpirationDate = &d
		}
	default:
		// Present but not a date: keep the text so the policy can see it.
		rec.ExpirationRaw = fmt.Sprint(v)
		if rec.ExpirationRaw == "" {
			rec.ExpirationRaw = val.Value
		}
	}
}

// scalarValue maps a YAML node to a Go value using the resolved tag:
// booleans, integers, floats, ISO dates and strings. Non-scalar values are
// decoded generically.
func scalarValue(n *yaml.Node) any {
	if n.Kind != yaml.ScalarNode {
		var out any
		if err := n.Decode(&out); err != nil {
			return n.Value
		}
		return out
	}

	switch n.ShortTag() {
	case "!!null":
		return nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err == nil {
			return b
		}
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return i
		}
	case "!!float":
		var f float64
		if err := n.Decode(&f); err == nil {
			return f
		}
	case "!!timestamp":
		// yaml.v3 resolves the full timestamp grammar, with or without a
		// time of day or zone.
		var t time.Time
		if err := n.Decode(&t); err == nil {
			return types.DateOf(t)
		}
		if d, err := types.ParseDate(n.Value); err == nil {
			return d
		}
	}
	return n.Value
}

func scalarText(n *yaml.Node) string {
	if n.Kind == yaml.ScalarNode {
		if n.ShortTag() == "!!null" {
			return ""
		}
		return n.Value
	}
	return fmt.Sprint(scalarValue(n))
}

func scalarBool(n *yaml.Node) (bool, bool) {
	switch v := scalarValue(n).(type) {
	case bool:
		return v, true
	case nil:
		return false, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return b, err == nil
	}
	return false, false
}
