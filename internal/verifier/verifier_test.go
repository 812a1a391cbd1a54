package verifier

import "testing"

func TestVerifyImports(t *testing.T) {
	policy := &Policy{BlockedModules: []string{"os", "subprocess"}}

	tests := []struct {
		name string
		code string
		want int
	}{
		{"allowed import", "import math\nmath.sqrt(4)", 0},
		{"blocked import", "import os\nos.getcwd()", 1},
		{"blocked from-import", "from subprocess import run", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Verify(tt.code, policy)
			if len(got) != tt.want {
				t.Errorf("Verify(%q) = %d violations, want %d (%v)", tt.code, len(got), tt.want, got)
			}
		})
	}
}

func TestVerifyDangerousNamesAlwaysBlocked(t *testing.T) {
	policy := Permissive()

	tests := []string{
		"getattr(obj, \"secret\")",
		"x = obj.__class__",
		"obj[\"__dict__\"]",
		"setattr(obj, \"x\", 1)",
	}
	for _, code := range tests {
		if got := Verify(code, policy); len(got) == 0 {
			t.Errorf("Verify(%q) = no violations, want at least one", code)
		}
	}
}

func TestVerifySubscriptCallRejectedOutright(t *testing.T) {
	got := Verify(`obj["run"]()`, Permissive())
	if len(got) == 0 {
		t.Fatalf("Verify(subscript call) = no violations, want a violation")
	}
}

func TestVerifyNestedCallChecksInnerCall(t *testing.T) {
	policy := &Policy{BlockedFunctions: []string{"eval"}}
	got := Verify(`getattr(obj, "method")()`, policy)
	if len(got) == 0 {
		t.Fatalf("Verify(getattr(...)()) = no violations, want at least one for the dangerous inner call")
	}
}

func TestVerifyAssignmentRestrictedToAllowList(t *testing.T) {
	policy := &Policy{AllowedVariables: []string{"x", "result"}}

	tests := []struct {
		name string
		code string
		want int
	}{
		{"allowed target", "x = 1", 0},
		{"disallowed target", "y = 1", 1},
		{"attribute target skipped", "obj.field = 1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Verify(tt.code, policy)
			if len(got) != tt.want {
				t.Errorf("Verify(%q) = %d violations, want %d (%v)", tt.code, len(got), tt.want, got)
			}
		})
	}
}

func TestVerifyMagicLines(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"pip install allowed", "%pip install numpy", 0},
		{"conda install allowed", "!conda install -y numpy", 0},
		{"other magic rejected", "%ls -la", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Verify(tt.code, Permissive())
			if len(got) != tt.want {
				t.Errorf("Verify(%q) = %d violations, want %d (%v)", tt.code, len(got), tt.want, got)
			}
		})
	}
}

func TestVerifySyntaxErrorShortCircuits(t *testing.T) {
	got := Verify(`import os\ndef f(:\n    pass`, Permissive())
	if len(got) != 1 || got[0].Message != "Syntax error" {
		t.Fatalf("Verify(unbalanced code) = %v, want a single Syntax error violation", got)
	}
}

func TestPolicyValidateRejectsContradiction(t *testing.T) {
	p := &Policy{AllowedModules: []string{"math"}, BlockedModules: []string{"os"}}
	if err := p.Validate(); err == nil {
		t.Fatal("Validate() = nil, want error for contradictory module policy")
	}
}
