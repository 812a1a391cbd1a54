// Package verifier implements the Code Verifier (C5): a static scan the
// Kernel Host runs over submitted code before executing it, rejecting
// imports, calls, and attribute/subscript patterns a policy disallows.
package verifier

import "strings"

// Violation is one rejected construct, tied to the source line it came
// from so the caller can report "line N: ...".
type Violation struct {
	Line    int
	Text    string
	Message string
}

// Verify scans code against policy and returns every violation found. A
// nil or empty slice means the code is clear to execute. Syntax errors
// short-circuit every other rule and report as a single violation,
// matching rule 8.
func Verify(code string, policy *Policy) []Violation {
	if policy == nil {
		policy = Permissive()
	}

	scan := tokenize(code)
	if !scan.balanced {
		return []Violation{{
			Line:    scan.unclosedAt,
			Text:    lineText(code, scan.unclosedAt),
			Message: "Syntax error",
		}}
	}

	var violations []Violation
	violations = append(violations, checkMagicLines(code)...)
	violations = append(violations, checkImports(scan.tokens, policy)...)
	violations = append(violations, checkCallsAndAttrs(scan.tokens, policy)...)
	violations = append(violations, checkSubscripts(scan.tokens, code)...)
	violations = append(violations, checkAssignments(scan.tokens, policy, code)...)
	return violations
}

// checkMagicLines enforces rule 7: lines starting with "%" or "!" are
// only allowed when they invoke a package installer.
func checkMagicLines(code string) []Violation {
	var out []Violation
	for i, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || (line[0] != '%' && line[0] != '!') {
			continue
		}
		body := strings.TrimLeft(line, "%!")
		body = strings.TrimSpace(body)
		if strings.HasPrefix(body, "pip install") || strings.HasPrefix(body, "conda install") ||
			strings.HasPrefix(body, "pip3 install") {
			continue
		}
		out = append(out, Violation{Line: i + 1, Text: line, Message: "magic line not permitted"})
	}
	return out
}

// checkImports enforces rule 1: an import statement's root package is
// checked against the module policy.
func checkImports(toks []token, policy *Policy) []Violation {
	var out []Violation
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent {
			continue
		}
		switch t.text {
		case "import":
			if i+1 < len(toks) && toks[i+1].kind == tokIdent {
				root := toks[i+1].text
				if !moduleAllowed(policy, root) {
					out = append(out, Violation{Line: t.line, Text: root, Message: "import of module \"" + root + "\" not permitted"})
				}
			}
		case "from":
			if i+1 < len(toks) && toks[i+1].kind == tokIdent {
				root := toks[i+1].text
				if !moduleAllowed(policy, root) {
					out = append(out, Violation{Line: t.line, Text: root, Message: "import of module \"" + root + "\" not permitted"})
				}
			}
		}
	}
	return out
}

// checkCallsAndAttrs enforces rules 2, 3, and 4: resolves each call's
// callee name (simple or attribute form), checks it against the
// dangerous-name set and the function policy, and flags standalone
// attribute access to a dangerous name even without a call.
func checkCallsAndAttrs(toks []token, policy *Policy) []Violation {
	var out []Violation
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.kind != tokIdent {
			continue
		}

		// Walk a dotted chain: ident(.ident)*
		chain := []token{t}
		j := i + 1
		for j+1 < len(toks) && toks[j].kind == tokDot && toks[j+1].kind == tokIdent {
			chain = append(chain, toks[j+1])
			j += 2
		}

		last := chain[len(chain)-1]

		// Rule 4: attribute access to a dangerous name, call or not.
		if len(chain) > 1 && isDangerousName(last.text) {
			out = append(out, Violation{Line: last.line, Text: last.text, Message: "access to \"" + last.text + "\" not permitted"})
		}

		// Rule 2/3: if this chain is immediately called, the callee name
		// is the simple name (len(chain)==1) or the final attribute
		// (len(chain)>1, e.g. obj.method).
		if j < len(toks) && toks[j].kind == tokLParen {
			if !functionAllowed(policy, last.text) {
				out = append(out, Violation{Line: last.line, Text: last.text, Message: "call to \"" + last.text + "\" not permitted"})
			}
		}

		i = j - 1
	}
	return out
}

// checkSubscripts enforces rule 5 (constant-string dangerous subscript
// keys) and the subscript-call half of rule 2 (obj["name"]() rejected
// outright, regardless of what "name" is).
func checkSubscripts(toks []token, code string) []Violation {
	var out []Violation
	for i := 0; i < len(toks); i++ {
		if toks[i].kind != tokLBracket {
			continue
		}
		// Find the matching close bracket for a simple [ "key" ] span.
		if i+2 < len(toks) && toks[i+1].kind == tokString && toks[i+2].kind == tokRBracket {
			key := toks[i+1].text
			if isDangerousName(key) || strings.HasPrefix(key, "__") {
				out = append(out, Violation{Line: toks[i+1].line, Text: key, Message: "subscript access to \"" + key + "\" not permitted"})
			}
			if i+3 < len(toks) && toks[i+3].kind == tokLParen {
				out = append(out, Violation{Line: toks[i].line, Text: lineText(code, toks[i].line), Message: "subscript-based call not permitted"})
			}
		}
	}
	return out
}

// checkAssignments enforces rule 6: when allowed_variables is
// configured, every assignment target name must be in it. Only the
// simple "name(, name)* =" shape at statement start is recognized;
// attribute and subscript assignment targets are not simple variable
// bindings and fall outside this rule.
func checkAssignments(toks []token, policy *Policy, code string) []Violation {
	if len(policy.AllowedVariables) == 0 {
		return nil
	}

	var out []Violation
	start := 0
	for i := 0; i <= len(toks); i++ {
		if i < len(toks) && toks[i].kind != tokNewline {
			continue
		}
		stmt := toks[start:i]
		start = i + 1
		out = append(out, checkAssignmentStatement(stmt, policy)...)
	}
	return out
}

func checkAssignmentStatement(stmt []token, policy *Policy) []Violation {
	eq := -1
	depth := 0
	for i, t := range stmt {
		switch t.kind {
		case tokLParen, tokLBracket:
			depth++
		case tokRParen, tokRBracket:
			depth--
		case tokEquals:
			if depth == 0 {
				eq = i
			}
		}
		if eq >= 0 {
			break
		}
	}
	if eq <= 0 {
		return nil
	}

	var out []Violation
	brackets := 0
	for i := 0; i < eq; i++ {
		t := stmt[i]
		switch t.kind {
		case tokLBracket:
			brackets++
		case tokRBracket:
			brackets--
		}
		if t.kind != tokIdent || brackets > 0 {
			continue
		}
		// Skip if this identifier is followed by a dot or bracket, or
		// preceded by a dot (attribute/subscript target, not a simple
		// variable binding).
		if i+1 < eq && (stmt[i+1].kind == tokDot || stmt[i+1].kind == tokLBracket) {
			continue
		}
		if i > 0 && stmt[i-1].kind == tokDot {
			continue
		}
		if !variableAllowed(policy, t.text) {
			out = append(out, Violation{Line: t.line, Text: t.text, Message: "assignment to \"" + t.text + "\" not permitted"})
		}
	}
	return out
}
