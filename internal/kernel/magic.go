package kernel

import "strings"

// splitMagic separates shell/magic lines from executable code, per the
// pre-execution pipeline's first step. Package-install magics are kept
// (dispatched separately); any other magic line is rejected before the
// verifier even runs.
func splitMagic(code string) (remaining string, installs []string, rejected []string) {
	var codeLines []string
	for _, raw := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || (trimmed[0] != '%' && trimmed[0] != '!') {
			codeLines = append(codeLines, raw)
			continue
		}
		body := strings.TrimSpace(strings.TrimLeft(trimmed, "%!"))
		if isPackageInstall(body) {
			installs = append(installs, body)
			continue
		}
		rejected = append(rejected, trimmed)
	}
	return strings.Join(codeLines, "\n"), installs, rejected
}

func isPackageInstall(body string) bool {
	for _, prefix := range []string{"pip install", "pip3 install", "conda install"} {
		if strings.HasPrefix(body, prefix) {
			return true
		}
	}
	return false
}
