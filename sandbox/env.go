package sandbox

import (
	"os"
	"sort"
	"strings"
)

// sensitiveEnvPatterns are case-insensitive suffixes of variables that never
// reach a sandboxed program.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// overriddenEnvVars are replaced so the program sees its run directory.
var overriddenEnvVars = map[string]bool{
	"HOME":   true,
	"TMPDIR": true,
	"PWD":    true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// buildEnvironment filters the parent environment, points HOME and TMPDIR at
// the run directory and appends extra variables in sorted order.
func buildEnvironment(dir string, extra map[string]string) []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnvVar(name) || overriddenEnvVars[name] {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "HOME="+dir, "TMPDIR="+dir, "PWD="+dir)

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
