package infra

import (
	"errors"
	"testing"
)

func TestSplitMarker(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		query   string
		marker  string
		body    string
		wantErr bool
	}{
		{
			name:   "valid",
			query:  "\n--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;\n",
			marker: "4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db",
			body:   "select 1;",
		},
		{name: "missing_marker", query: "select 1;", wantErr: true},
		{name: "uppercase_uuid", query: "--sql 4F55A9B7-4E9F-4E45-A3B3-5A532D21D9DB\nselect 1;", wantErr: true},
		{name: "marker_only", query: "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db", wantErr: true},
		{name: "empty", query: "  ", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			marker, body, err := SplitMarker(tc.query)
			if tc.wantErr {
				if !errors.Is(err, ErrSQLMarker) {
					t.Fatalf("err = %v, want ErrSQLMarker", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitMarker returned error: %v", err)
			}
			if marker != tc.marker || body != tc.body {
				t.Fatalf("got (%q, %q), want (%q, %q)", marker, body, tc.marker, tc.body)
			}
		})
	}
}
