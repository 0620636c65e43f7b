// Package pathvalidator normalizes candidate filesystem paths and
// decides whether the safety core may let a caller write to them.
package pathvalidator

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Result is the outcome of validating a path.
type Result struct {
	Valid  bool
	Reason string
}

func allow(reason string) Result { return Result{Valid: true, Reason: reason} }
func deny(reason string) Result  { return Result{Valid: false, Reason: reason} }

var sensitiveDirSuffixes = []string{
	"/.ssh",
	"/.gnupg",
	"/.aws",
	"/.config/gcloud",
	"/.kube",
}

var sensitiveExactSuffixes = []string{
	"/.netrc",
	"/etc/passwd",
	"/etc/shadow",
	"/etc/sudoers",
	"/System",
	"/Library/Preferences",
	"/private/etc",
}

var sensitiveFileRegexes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\.env(\..+)?$`),
	regexp.MustCompile(`(?i)credentials\.(json|ya?ml)$`),
	regexp.MustCompile(`(?i)secrets\.(json|ya?ml)$`),
	regexp.MustCompile(`(?i)\.[a-z0-9_]+_history$`),
	regexp.MustCompile(`(?i)\.pem$`),
	regexp.MustCompile(`(?i)\.key$`),
	regexp.MustCompile(`(?i)(^|/)id_rsa$`),
	regexp.MustCompile(`(?i)(^|/)id_ed25519$`),
	regexp.MustCompile(`(?i)\.p12$`),
	regexp.MustCompile(`(?i)\.pfx$`),
	regexp.MustCompile(`(?i)\.keystore$`),
	regexp.MustCompile(`(?i)(^|/)token\.json$`),
}

var urlEncodedTraversal = regexp.MustCompile(`(?i)%2e|%2f`)

// Validate checks a candidate path against traversal rules, the sensitivity
// list, and the project's allowed/blocked path lists, per the resolution
// order: traversal -> blocked -> sensitive -> allowed -> project root.
func Validate(rawPath string, projectRoot string, allowedPaths, blockedPaths []string) Result {
	if strings.ContainsRune(rawPath, 0) {
		return deny("path contains a null byte")
	}
	if urlEncodedTraversal.MatchString(rawPath) {
		return deny("path contains url-encoded traversal characters")
	}
	if containsDotDotSegment(rawPath) {
		return deny("path contains a .. traversal segment")
	}

	expanded := expandHome(rawPath)
	canonical := canonicalize(expanded)

	for _, blocked := range blockedPaths {
		if under(canonical, canonicalize(expandHome(blocked))) {
			return deny("path is under a blocked path")
		}
	}

	if isSensitive(canonical) {
		return deny("path refers to a sensitive system or credential location")
	}

	if len(allowedPaths) > 0 {
		ok := false
		for _, a := range allowedPaths {
			if under(canonical, canonicalize(expandHome(a))) {
				ok = true
				break
			}
		}
		if !ok {
			return deny("path is not within any allowed path")
		}
	}

	if projectRoot != "" {
		if !under(canonical, canonicalize(expandHome(projectRoot))) {
			return deny("path is outside the project root")
		}
	}

	return allow("path validated")
}

func containsDotDotSegment(p string) bool {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	h, _ := os.UserHomeDir()
	return h
}

// canonicalize returns an absolute cleaned form when the path is absolute,
// and a normalized-lexical cleaned form otherwise (no traversal was present,
// it was already rejected above, so Clean never escapes).
func canonicalize(p string) string {
	if filepath.IsAbs(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return resolved
		}
		return filepath.Clean(p)
	}
	return filepath.Clean(p)
}

// under reports whether p equals parent or parent is an ancestor of p.
func under(p, parent string) bool {
	if p == parent {
		return true
	}
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../") && !strings.HasPrefix(rel, "..\\")
}

func isSensitive(canonical string) bool {
	home := homeDir()
	for _, suffix := range sensitiveDirSuffixes {
		if under(canonical, home+suffix) {
			return true
		}
	}
	for _, suffix := range sensitiveExactSuffixes {
		if canonical == suffix || strings.HasPrefix(canonical, suffix+"/") || under(canonical, home+suffix) {
			return true
		}
	}
	base := filepath.Base(canonical)
	for _, re := range sensitiveFileRegexes {
		if re.MatchString(canonical) || re.MatchString(base) {
			return true
		}
	}
	return false
}
