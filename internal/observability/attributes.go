// Package observability provides the service metrics and their
// Prometheus export.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrBackend = "backend"
	attrResult  = "result"
	attrState   = "state"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// pathAttr labels with the route shape, not the raw path, so per-job
// URLs do not explode cardinality.
func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

// statusAttr groups status codes into classes (2xx, 4xx, 5xx).
func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String(attrBackend, backend)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

// normalizePath replaces the job id segment with a placeholder, keeping
// any trailing action segment.
func normalizePath(path string) string {
	const prefix = "/v1/jobs/"
	if !strings.HasPrefix(path, prefix) || len(path) == len(prefix) {
		return path
	}
	rest := path[len(prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{jobId}" + rest[i:]
	}
	return prefix + "{jobId}"
}
