package dom

import "errors"

var (
	errNoTarget  = errors.New("dom: container has no render target")
	errNoImage   = errors.New("dom: markup contains no svg element")
	errNoElement = errors.New("dom: markup contains no element")
)

// IsNoTarget reports whether err means a container lacks a render target.
func IsNoTarget(err error) bool {
	return errors.Is(err, errNoTarget)
}
