package errors

import (
	"strings"
	"unicode"
)

// ValidatePath checks a path relative to the preview root: non-empty, at
// most 500 bytes, relative, without traversal, backslashes or control
// characters.
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}
	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}
	for _, r := range path {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}
	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain parent references")
		}
	}
	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}
	return nil
}

// ValidateExportName checks the base name of an export file: a plain file
// name without separators, not hidden, at most 200 bytes.
func ValidateExportName(name string) error {
	if name == "" {
		return New(ErrCodeInvalidInput, "export name cannot be empty")
	}
	if len(name) > 200 {
		return New(ErrCodeInvalidInput, "export name too long (max 200 characters)")
	}
	if strings.ContainsAny(name, "/\\") {
		return New(ErrCodeInvalidInput, "export name cannot contain path separators")
	}
	if strings.HasPrefix(name, ".") {
		return New(ErrCodeInvalidInput, "export name cannot start with a dot")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "export name contains invalid characters")
		}
	}
	return nil
}
