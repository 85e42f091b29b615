package engine

import "strings"

// Outcome carries a value plus the reasons, if any, it was produced through a
// fallback path. An Outcome without reasons is Ok.
type Outcome[T any] struct {
	Value   T
	Reasons []string
}

func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Degraded wraps a fallback value with the reason it was used.
func Degraded[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{Value: v, Reasons: []string{reason}}
}

func (o Outcome[T]) IsDegraded() bool { return len(o.Reasons) > 0 }

// With returns a copy of o carrying additional reasons.
func (o Outcome[T]) With(reasons ...string) Outcome[T] {
	o.Reasons = append([]string(nil), o.Reasons...)
	for _, r := range reasons {
		if r = strings.TrimSpace(r); r != "" {
			o.Reasons = append(o.Reasons, r)
		}
	}
	return o
}

// Summary renders the reasons for a task message. It is empty for Ok outcomes.
func (o Outcome[T]) Summary() string {
	if !o.IsDegraded() {
		return ""
	}
	return "completed with fallback: " + strings.Join(o.Reasons, "; ")
}

// Then carries the reasons of o over to a new value.
func Then[T, U any](o Outcome[T], v U) Outcome[U] {
	return Outcome[U]{Value: v, Reasons: append([]string(nil), o.Reasons...)}
}
