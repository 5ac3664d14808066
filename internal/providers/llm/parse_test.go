package llm

import "testing"

func TestParsePayload(t *testing.T) {
	t.Parallel()
	type payload struct {
		Prompt string `json:"prompt"`
	}
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: `{"prompt":"a fox"}`, want: "a fox"},
		{name: "fenced", raw: "```json\n{\"prompt\":\"a fox\"}\n```", want: "a fox"},
		{name: "chatter", raw: "Sure! Here it is: {\"prompt\":\"a fox\"} Enjoy.", want: "a fox"},
		{name: "no_json", raw: "a fox in a forest", wantErr: true},
		{name: "broken", raw: `{"prompt": "a fox"`, wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePayload[payload](tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %#v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload returned error: %v", err)
			}
			if got.Prompt != tc.want {
				t.Fatalf("Prompt = %q, want %q", got.Prompt, tc.want)
			}
		})
	}
}
