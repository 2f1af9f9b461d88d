package accessor

import (
	"fmt"
	"strings"
)

// Route is a path split into its namespace and title tokens.
type Route struct {
	// Namespace is the first byte of NamespaceToken; only it is used for lookup.
	Namespace      byte
	NamespaceToken string
	Title          string
}

// Router splits "/<namespace>/<title>" paths. It does no decoding or
// normalization: leading slashes and the run of slashes after the
// namespace are skipped, and the title ends at the next slash.
type Router struct {
	MaxTokenLength int
}

func NewRouter(maxTokenLength int) Router {
	return Router{MaxTokenLength: maxTokenLength}
}

func (r Router) Route(path string) (Route, error) {
	rest := strings.TrimLeft(path, "/")

	ns, rest, _ := strings.Cut(rest, "/")
	rest = strings.TrimLeft(rest, "/")
	title, _, _ := strings.Cut(rest, "/")

	if ns == "" {
		return Route{}, fmt.Errorf("%w: %q has no namespace", ErrMalformedPath, path)
	}
	if title == "" {
		return Route{}, fmt.Errorf("%w: %q has no title", ErrMalformedPath, path)
	}
	if r.MaxTokenLength > 0 {
		if len(ns) > r.MaxTokenLength {
			return Route{}, fmt.Errorf("%w: namespace of %d bytes exceeds %d", ErrMalformedPath, len(ns), r.MaxTokenLength)
		}
		if len(title) > r.MaxTokenLength {
			return Route{}, fmt.Errorf("%w: title of %d bytes exceeds %d", ErrMalformedPath, len(title), r.MaxTokenLength)
		}
	}
	return Route{Namespace: ns[0], NamespaceToken: ns, Title: title}, nil
}
