// Package sandbox executes one untrusted code unit under an isolation
// boundary with a deny-list security policy and hard resource ceilings.
package sandbox

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Policy is the deny-list and resource ceiling configuration for sandboxed
// execution. Loaded once per organization (or overridden per invocation) and
// never mutated by running code.
type Policy struct {
	// DeniedImports lists module/package names that must not be imported by
	// the submitted code (matched per language).
	DeniedImports []string `mapstructure:"denied_imports" yaml:"denied_imports"`
	// DeniedPatterns lists operation signatures (substrings) that refuse
	// execution pre-launch, e.g. "os.system", "child_process".
	DeniedPatterns []string `mapstructure:"denied_patterns" yaml:"denied_patterns"`

	WallClockLimit time.Duration `mapstructure:"wall_clock_limit" yaml:"wall_clock_limit"`
	MemoryLimitMB  int           `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`

	AllowNetwork   bool `mapstructure:"allow_network" yaml:"allow_network"`
	AllowFileWrite bool `mapstructure:"allow_file_write" yaml:"allow_file_write"`
}

// DefaultPolicy returns the baseline policy applied when an organization has
// no override.
func DefaultPolicy() Policy {
	return Policy{
		DeniedImports: []string{
			"socket", "subprocess", "ctypes", "multiprocessing",
			"child_process", "net", "cluster", "worker_threads",
		},
		DeniedPatterns: []string{
			"os.system", "os.exec", "os.fork", "eval(", "exec(",
			"require('http')", "require(\"http\")", "XMLHttpRequest",
			"curl ", "wget ", "nc ", "ssh ", "rm -rf /",
		},
		WallClockLimit: 30 * time.Second,
		MemoryLimitMB:  256,
	}
}

// Violation names the first denied operation found during pre-execution
// validation.
type Violation struct {
	Rule    string // the deny-list entry that matched
	Matched string // the offending fragment of the submitted code
}

func (v *Violation) String() string {
	return fmt.Sprintf("denied operation %q (matched %q)", v.Rule, v.Matched)
}

var (
	pythonImportRe = regexp.MustCompile(`(?m)^\s*(?:import\s+([\w.]+)|from\s+([\w.]+)\s+import)`)
	jsRequireRe    = regexp.MustCompile(`require\(\s*['"]([\w./-]+)['"]\s*\)`)
	jsImportRe     = regexp.MustCompile(`(?m)^\s*import\s+(?:.+\s+from\s+)?['"]([\w./-]+)['"]`)
)

// Check validates code against the deny-list before launch. A non-nil
// Violation means execution must be refused without starting a process.
func (p Policy) Check(language, code string) *Violation {
	for _, imported := range extractImports(language, code) {
		for _, denied := range p.DeniedImports {
			if imported == denied || strings.HasPrefix(imported, denied+".") || strings.HasPrefix(imported, denied+"/") {
				return &Violation{Rule: denied, Matched: imported}
			}
		}
	}

	for _, pattern := range p.DeniedPatterns {
		if pattern == "" {
			continue
		}
		if idx := strings.Index(code, pattern); idx >= 0 {
			end := idx + len(pattern) + 16
			if end > len(code) {
				end = len(code)
			}
			return &Violation{Rule: pattern, Matched: strings.TrimSpace(code[idx:end])}
		}
	}

	return nil
}

// extractImports pulls imported module names out of the submitted code.
func extractImports(language, code string) []string {
	var imports []string
	switch language {
	case "python":
		for _, m := range pythonImportRe.FindAllStringSubmatch(code, -1) {
			if m[1] != "" {
				imports = append(imports, strings.Split(m[1], ".")[0])
			}
			if m[2] != "" {
				imports = append(imports, strings.Split(m[2], ".")[0])
			}
		}
	case "javascript":
		for _, m := range jsRequireRe.FindAllStringSubmatch(code, -1) {
			imports = append(imports, m[1])
		}
		for _, m := range jsImportRe.FindAllStringSubmatch(code, -1) {
			imports = append(imports, m[1])
		}
	case "bash":
		// Shell has no import statement; the deny patterns carry the policy.
	}
	return imports
}
