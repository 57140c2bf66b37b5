package utils

import (
	"path/filepath"
	"strings"
)

// ResolveWithin joins rel onto base and rejects any result that escapes base.
// Absolute inputs are treated as relative to base. Only the path string is
// inspected; the filesystem is not touched.
func ResolveWithin(base, rel string) (string, error) {
	const op = "utils.ResolveWithin"

	if strings.TrimSpace(rel) == "" {
		return "", E(CodeInvalidArgument, op, "reference path is required", nil)
	}
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", E(CodeInternal, op, "invalid base directory", err)
	}
	cleaned := filepath.Clean(filepath.Join(absBase, filepath.FromSlash(rel)))
	if cleaned != absBase && !strings.HasPrefix(cleaned, absBase+string(filepath.Separator)) {
		return "", E(CodeInvalidArgument, op, "reference path escapes the allowed directory", nil)
	}
	return cleaned, nil
}

// HasExt reports whether name ends with ext, case-insensitively.
func HasExt(name, ext string) bool {
	return strings.EqualFold(filepath.Ext(name), ext)
}

// EnsureWithin resolves symlinks in an existing path and rejects it when the
// real location is outside base.
func EnsureWithin(base, path string) error {
	const op = "utils.EnsureWithin"

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return E(CodeInternal, op, "invalid base directory", err)
	}
	realBase, err = filepath.Abs(realBase)
	if err != nil {
		return E(CodeInternal, op, "invalid base directory", err)
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return E(CodeInternal, op, "failed to resolve reference path", err)
	}
	real, err = filepath.Abs(real)
	if err != nil {
		return E(CodeInternal, op, "failed to resolve reference path", err)
	}
	if real != realBase && !strings.HasPrefix(real, realBase+string(filepath.Separator)) {
		return E(CodeInvalidArgument, op, "reference path escapes the allowed directory", nil)
	}
	return nil
}
