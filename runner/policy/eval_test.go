package policy

import "testing"

func TestEvalPredicate(t *testing.T) {
	tests := []struct {
		name    string
		cond    string
		vars    map[string]any
		want    bool
		wantErr bool
	}{
		{name: "empty is true", cond: "", want: true},
		{name: "blank is true", cond: "   ", want: true},
		{
			name: "comparison",
			cond: "turns < 5",
			vars: map[string]any{"turns": 3},
			want: true,
		},
		{
			name: "boolean connectives",
			cond: `turns < 5 and response != ""`,
			vars: map[string]any{"turns": 3, "response": "hi"},
			want: true,
		},
		{
			name: "dot access into context",
			cond: "context.ready == true",
			vars: map[string]any{"context": map[string]any{"ready": true}},
			want: true,
		},
		{
			name: "string contains operator",
			cond: `response contains "task"`,
			vars: map[string]any{"response": "task complete"},
			want: true,
		},
		{
			name: "hyphenated id in a string literal",
			cond: `context.tid == "T-42"`,
			vars: map[string]any{"context": map[string]any{"tid": "T-42"}},
			want: true,
		},
		{
			name: "literal may hold any punctuation",
			cond: `response == 'a:b-c/d'`,
			vars: map[string]any{"response": "a:b-c/d"},
			want: true,
		},
		{
			name:    "non-bool result is an error",
			cond:    "turns",
			vars:    map[string]any{"turns": 3},
			wantErr: true,
		},
		{
			name:    "unterminated literal is an error",
			cond:    `response == "open`,
			vars:    map[string]any{"response": "open"},
			wantErr: true,
		},
		{
			name:    "unknown identifier is an error",
			cond:    "missing > 1",
			vars:    map[string]any{},
			wantErr: true,
		},
		{
			name:    "function call rejected",
			cond:    "len(response) > 1",
			vars:    map[string]any{"response": "hi"},
			wantErr: true,
		},
		{
			name:    "arithmetic rejected",
			cond:    "turns + 1 < 5",
			vars:    map[string]any{"turns": 3},
			wantErr: true,
		},
		{
			name:    "illegal character rejected",
			cond:    "turns < 5; true",
			vars:    map[string]any{"turns": 3},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalPredicate(tt.cond, tt.vars)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePredicate(t *testing.T) {
	valid := []string{
		"",
		"turns < 3",
		"context.done",
		`response contains "x" or turns >= 2`,
		"(turns < 3) and (elapsed_time < 10.5)",
		`context.tid == "T-42"`,
		`response contains "co-pilot"`,
		`response == '{"ok": true}'`,
		`response == "escaped \" quote - inside"`,
	}
	for _, cond := range valid {
		if err := ValidatePredicate(cond); err != nil {
			t.Errorf("ValidatePredicate(%q) = %v, want nil", cond, err)
		}
	}

	invalid := []string{
		"len(x)",
		"exec(cmd)",
		"a + b",
		"a; b",
		"x ? y : z",
		"obj[0]",
		`turns - 1 > 0`,
		`len("x") > 0`,
	}
	for _, cond := range invalid {
		if err := ValidatePredicate(cond); err == nil {
			t.Errorf("ValidatePredicate(%q) = nil, want error", cond)
		}
	}
}
