// Package errors defines the classified error taxonomy shared by the query
// pipeline. Every terminal failure carries a machine-readable Kind plus the
// raw remote message so the CLI layer can attach remediation hints without
// the core hard-coding presentation strings.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable machine-readable error category.
type Kind string

const (
	// KindValidation marks a local pre-flight rejection. Never retried.
	KindValidation Kind = "validation"
	// KindSubmission marks a remote rejection of the submission itself.
	KindSubmission Kind = "submission"
	// KindTransientPoll marks a single failed status check.
	KindTransientPoll Kind = "transient_poll"
	// KindExecution marks a semantic failure reported by the remote engine.
	KindExecution Kind = "execution"
	// KindFetch marks a result object retrieval or decode failure.
	KindFetch Kind = "fetch"
	// KindTimeout marks the end-to-end deadline being exceeded.
	KindTimeout Kind = "timeout"
	// KindCancelled marks a caller- or service-initiated cancellation.
	KindCancelled Kind = "cancelled"
	// KindStore marks a cache store failure. Never fatal to the query path.
	KindStore Kind = "store"
)

// Subkind refines KindExecution and KindFetch failures.
type Subkind string

const (
	SubkindNone             Subkind = ""
	SubkindTableNotFound    Subkind = "table_not_found"
	SubkindPermissionDenied Subkind = "permission_denied"
	SubkindSyntaxError      Subkind = "syntax_error"
	SubkindOther            Subkind = "other"

	SubkindMissing      Subkind = "missing"
	SubkindCorrupt      Subkind = "corrupt"
	SubkindAccessDenied Subkind = "access_denied"
)

// E wraps an error with its classification and the original remote message.
type E struct {
	Kind    Kind
	Subkind Subkind
	Message string
	Err     error
}

func (e *E) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Subkind != SubkindNone {
		b.WriteString("/")
		b.WriteString(string(e.Subkind))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *E) Unwrap() error { return e.Err }

// New returns a classified error without a wrapped cause.
func New(kind Kind, msg string) *E {
	return &E{Kind: kind, Message: msg}
}

// Newf formats a classified error without a wrapped cause.
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error.
func Wrap(kind Kind, msg string, err error) *E {
	return &E{Kind: kind, Message: msg, Err: err}
}

// WithSubkind returns a copy of e refined with a subkind.
func (e *E) WithSubkind(sub Subkind) *E {
	clone := *e
	clone.Subkind = sub
	return &clone
}

// KindOf reports the classification of err, or SubkindNone / empty Kind when
// err carries none.
func KindOf(err error) (Kind, Subkind) {
	var classified *E
	if errors.As(err, &classified) {
		return classified.Kind, classified.Subkind
	}
	return "", SubkindNone
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	got, _ := KindOf(err)
	return got == kind
}

// ClassifyExecutionFailure maps a raw state change reason from the remote
// engine onto an execution subkind. The raw message is preserved verbatim.
func ClassifyExecutionFailure(reason string) *E {
	lower := strings.ToLower(reason)
	sub := SubkindOther
	switch {
	case strings.Contains(lower, "table") && (strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")):
		sub = SubkindTableNotFound
	case strings.Contains(lower, "access denied"), strings.Contains(lower, "permission"), strings.Contains(lower, "not authorized"):
		sub = SubkindPermissionDenied
	case strings.Contains(lower, "syntax"), strings.Contains(lower, "mismatched input"), strings.Contains(lower, "parse error"):
		sub = SubkindSyntaxError
	}
	return &E{Kind: KindExecution, Subkind: sub, Message: reason}
}
