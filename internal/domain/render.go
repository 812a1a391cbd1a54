package domain

import (
	"fmt"
	"path"
	"strings"
)

// maxRenderLen is the hard cap on a rendered variable string (§3).
const maxRenderLen = 500

// unrepresentable is the literal rendering used when a value cannot be
// turned into a useful string.
const unrepresentable = "<unrepresentable>"

// RenderString renders a plain string variable verbatim, truncated to the
// 500-char cap.
func RenderString(s string) string {
	return truncate(s)
}

// RenderNDArray renders a numeric-array-like value per §3:
// "ndarray shape=... dtype=... value=...".
func RenderNDArray(shape []int, dtype, value string) string {
	shapeStrs := make([]string, len(shape))
	for i, d := range shape {
		shapeStrs[i] = fmt.Sprintf("%d", d)
	}
	rendered := fmt.Sprintf("ndarray shape=(%s) dtype=%s value=%s", strings.Join(shapeStrs, ", "), dtype, value)
	return truncate(rendered)
}

// RenderDebug renders any other value by its debug representation,
// truncated to the 500-char cap. Callers pass the host language's debug
// string (e.g. a fmt.Sprintf("%#v", ...) or language-native repr); this
// function only enforces the contract's length and fallback rules.
func RenderDebug(repr string, ok bool) string {
	if !ok {
		return unrepresentable
	}
	return truncate(repr)
}

func truncate(s string) string {
	if len(s) <= maxRenderLen {
		return s
	}
	return s[:maxRenderLen]
}

// ignoredVariableNames is the fixed ignore set of spec §4.1 step 5;
// the leading-underscore half of that rule is checked in
// IsVisibleVariable.
var ignoredVariableNames = map[string]struct{}{
	"In": {}, "Out": {}, "exit": {}, "quit": {}, "get_ipython": {},
	"np": {}, "pd": {}, "plt": {}, "os": {}, "sys": {}, "math": {},
}

// IsVisibleVariable reports whether a namespace entry should be surfaced
// to the caller per §4.1 step 5: no leading underscore, not in the fixed
// ignore set, and not itself a module/function/plugin instance (callers
// determine that last part and pass isCallableOrModule).
func IsVisibleVariable(name string, isCallableOrModule bool) bool {
	if strings.HasPrefix(name, "_") {
		return false
	}
	if _, ignored := ignoredVariableNames[name]; ignored {
		return false
	}
	return !isCallableOrModule
}

// ArtifactDownloadURL derives the §3 invariant: download_url is derivable
// as /api/v1/sessions/{id}/artifacts/{file_name} whenever file_name is set.
func ArtifactDownloadURL(sessionID, fileName string) string {
	if fileName == "" {
		return ""
	}
	return path.Join("/api/v1/sessions", sessionID, "artifacts", fileName)
}
