package credentials_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/upic/reader/internal/upic/credentials"
	"github.com/upic/reader/internal/upic/types"
)

func TestEncode_RoundTripsUnknownKeys(t *testing.T) {
	const input = `---
ID: ABC123
full_name: "Иванов: Иван"
expiration_date: 2099-01-01
is_temporary: true
badge_version: 3
flag: "true"
issued_on: 2024-05-06
photo: photos/abc.png
tags: [a, b]
`
	first := mustParse(t, input)

	var buf bytes.Buffer
	if err := credentials.Encode(&buf, []types.CredentialRecord{first[0].Record}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	second := mustParse(t, buf.String())
	if len(second) != 1 || second[0].Err != nil {
		t.Fatalf("re-parse failed: %+v\n%s", second, buf.String())
	}
	if !reflect.DeepEqual(first[0].Record, second[0].Record) {
		t.Errorf("round trip changed the record:\nbefore %+v\nafter  %+v\nencoded:\n%s",
			first[0].Record, second[0].Record, buf.String())
	}
}
