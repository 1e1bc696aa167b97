package models

import (
	"fmt"
	"regexp"
)

var referencePattern = regexp.MustCompile(`@\{([A-Za-z0-9_]+)\.`)

// LinkFields are the body fields whose values may carry a back-reference.
// Other body values are data and are never interpreted.
var LinkFields = []string{"AccountId"}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateCompositeRequest checks that reference ids are unique and that every
// back-reference points at a sub-request appearing earlier in the list.
func ValidateCompositeRequest(req *CompositeRequest) error {
	if req == nil {
		return &ValidationError{Field: "compositeRequest", Message: "request cannot be nil"}
	}
	if len(req.CompositeRequest) == 0 {
		return &ValidationError{Field: "compositeRequest", Message: "at least one sub-request is required"}
	}

	seen := make(map[string]struct{}, len(req.CompositeRequest))
	for i, sub := range req.CompositeRequest {
		field := fmt.Sprintf("compositeRequest[%d]", i)
		if sub.Method == "" || sub.URL == "" {
			return &ValidationError{Field: field, Message: "method and url are required"}
		}
		if sub.ReferenceID == "" {
			return &ValidationError{Field: field + ".referenceId", Message: "reference id is required"}
		}
		if _, dup := seen[sub.ReferenceID]; dup {
			return &ValidationError{Field: field + ".referenceId", Message: "duplicate reference id " + sub.ReferenceID}
		}

		for _, ref := range references(sub) {
			if _, ok := seen[ref]; !ok {
				return &ValidationError{
					Field:   field,
					Message: fmt.Sprintf("references %q before it is produced", ref),
				}
			}
		}
		seen[sub.ReferenceID] = struct{}{}
	}
	return nil
}

func references(sub SubRequest) []string {
	var refs []string
	collect := func(s string) {
		for _, m := range referencePattern.FindAllStringSubmatch(s, -1) {
			refs = append(refs, m[1])
		}
	}
	collect(sub.URL)
	for _, field := range LinkFields {
		if s, ok := sub.Body[field].(string); ok {
			collect(s)
		}
	}
	return refs
}
