package credentials

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/upic/reader/internal/upic/types"
)

// Encode writes records in the credential file format. Known keys come
// first, followed by the record's unknown keys in their original order.
func Encode(w io.Writer, records []types.CredentialRecord) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := fmt.Fprintln(bw, Separator); err != nil {
			return err
		}
		if err := encodeRecord(bw, rec); err != nil {
			return fmt.Errorf("encode %s: %w", rec.ID, err)
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func encodeRecord(w io.Writer, rec types.CredentialRecord) error {
	fields := []types.Field{{Key: KeyID, Value: rec.ID}}
	if rec.FullName != "" {
		fields = append(fields, types.Field{Key: KeyFullName, Value: rec.FullName})
	}
	if rec.Organization != "" {
		fields = append(fields, types.Field{Key: KeyOrganization, Value: rec.Organization})
	}
	if rec.Department != "" {
		fields = append(fields, types.Field{Key: KeyDepartment, Value: rec.Department})
	}
	switch {
	case rec.ExpirationDate != nil:
		fields = append(fields, types.Field{Key: KeyExpirationDate, Value: *rec.ExpirationDate})
	case rec.ExpirationRaw != "":
		fields = append(fields, types.Field{Key: KeyExpirationDate, Value: rec.ExpirationRaw})
	}
	if rec.IsTemporary {
		fields = append(fields, types.Field{Key: KeyIsTemporary, Value: true})
	}
	fields = append(fields, rec.Extra...)

	for _, f := range fields {
		v, err := encodeValue(f.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Key, err)
		}
		if v == "" {
			if _, err := fmt.Fprintf(w, "%s:\n", f.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s: %s\n", f.Key, v); err != nil {
			return err
		}
	}
	return nil
}

// encodeValue renders v as a single-line YAML value that parses back to
// the same scalar type.
func encodeValue(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case types.Date:
		return x.String(), nil
	}

	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return "", err
	}
	switch {
	case node.Kind != yaml.ScalarNode:
		node.Style = yaml.FlowStyle
	case strings.ContainsAny(node.Value, "\n\r"):
		node.Style = yaml.DoubleQuotedStyle
	}

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}
