package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CompositeRequest is the body of a Salesforce composite call.
type CompositeRequest struct {
	AllOrNone        bool         `json:"allOrNone"`
	CompositeRequest []SubRequest `json:"compositeRequest"`
}

type SubRequest struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	ReferenceID string         `json:"referenceId"`
	Body        map[string]any `json:"body,omitempty"`
}

type CompositeResponse struct {
	CompositeResponse []SubResponse `json:"compositeResponse"`
}

type SubResponse struct {
	HTTPStatusCode int             `json:"httpStatusCode"`
	Body           json.RawMessage `json:"body,omitempty"`
	ReferenceID    string          `json:"referenceId"`
}

func (s SubResponse) OK() bool {
	return s.HTTPStatusCode >= 200 && s.HTTPStatusCode <= 201
}

// Reference returns the back-reference token for the id a sub-request produces.
func Reference(referenceID string) string {
	return "@{" + referenceID + ".id}"
}

// Failures lists every sub-response outside 200-201.
func (r *CompositeResponse) Failures() []SubResponse {
	var failed []SubResponse
	for _, sub := range r.CompositeResponse {
		if !sub.OK() {
			failed = append(failed, sub)
		}
	}
	return failed
}

// PartialFailureError reports a composite call whose transport succeeded but
// whose sub-requests did not all succeed.
type PartialFailureError struct {
	Total  int
	Failed []SubResponse
}

func (e *PartialFailureError) Error() string {
	if e.Total == 0 {
		return "composite response contained no results"
	}
	refs := make([]string, 0, len(e.Failed))
	for _, sub := range e.Failed {
		refs = append(refs, fmt.Sprintf("%s=%d", sub.ReferenceID, sub.HTTPStatusCode))
	}
	return fmt.Sprintf("composite partial failure: %d of %d sub-requests failed (%s)",
		len(e.Failed), e.Total, strings.Join(refs, ", "))
}

// Err treats a missing result array and any failed item the same way:
// the whole batch failed.
func (r *CompositeResponse) Err() error {
	if r == nil || len(r.CompositeResponse) == 0 {
		return &PartialFailureError{}
	}
	if failed := r.Failures(); len(failed) > 0 {
		return &PartialFailureError{Total: len(r.CompositeResponse), Failed: failed}
	}
	return nil
}
