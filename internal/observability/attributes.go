// Package observability provides metrics for the upgrade service.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
	attrStep    = "step"
	attrOutcome = "outcome"
	attrSuccess = "success"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func stepAttr(step string) attribute.KeyValue {
	return attribute.String(attrStep, step)
}

// outcomeAttr labels a finished upgrade: "succeeded" or the failure kind.
func outcomeAttr(kind string) attribute.KeyValue {
	if kind == "" {
		kind = "succeeded"
	}
	return attribute.String(attrOutcome, kind)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// normalizePath replaces run IDs with a placeholder to bound cardinality.
func normalizePath(path string) string {
	const prefix = "/v1/upgrades/"
	if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
		return "/v1/upgrades/{runId}"
	}
	return path
}

// WithStep returns a metric option with the step attribute.
func WithStep(step string) metric.MeasurementOption {
	return metric.WithAttributes(stepAttr(step))
}

// WithOutcome returns a metric option with the outcome attribute.
func WithOutcome(kind string) metric.MeasurementOption {
	return metric.WithAttributes(outcomeAttr(kind))
}
