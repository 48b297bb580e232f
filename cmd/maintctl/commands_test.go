package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/gestaozabele/manutencao/internal/directory"
)

func TestParseDecision(t *testing.T) {
	id := uuid.New()

	kind, got, approved, err := parseDecision([]string{"contractor", id.String()}, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != directory.KindContractor || got != id || !approved {
		t.Fatalf("unexpected decision: %s %s %v", kind, got, approved)
	}

	if _, _, approved, err = parseDecision([]string{"user", id.String()}, false, true); err != nil || approved {
		t.Fatalf("expected deny, got approved=%v err=%v", approved, err)
	}

	cases := []struct {
		name    string
		args    []string
		approve bool
		deny    bool
	}{
		{"sem flag", []string{"user", id.String()}, false, false},
		{"duas flags", []string{"user", id.String()}, true, true},
		{"tipo inválido", []string{"admin", id.String()}, true, false},
		{"id inválido", []string{"user", "abc"}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, err := parseDecision(tc.args, tc.approve, tc.deny); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCategoriesValidateDefault(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"categories", "validate"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "Plumbing") {
		t.Fatalf("expected default catalog, got %s", out.String())
	}
}

func TestDecideRequiresTwoArgs(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"requests", "decide", "user"})

	if err := root.Execute(); err == nil {
		t.Fatalf("expected argument error")
	}
}
