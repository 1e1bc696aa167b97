package transform

import (
	"fmt"
	"sort"
	"strings"
)

const serviceUserKey = "serviceuser"

// Event is the validated domain event carried by a message.
type Event struct {
	ServiceUser *ServiceUser
}

// ServiceUser holds the identifiers plus the decoded business fields keyed
// by source field name.
type ServiceUser struct {
	AccountID string           `json:"accountid" validate:"required_without=ContactID,omitempty,max=80"`
	ContactID string           `json:"contactid" validate:"required_without=AccountID,omitempty,max=80"`
	Fields    map[string]Value `json:"-" validate:"-"`
}

func (u *ServiceUser) Field(source string) Value {
	return u.Fields[source]
}

// decode builds the event, recording type problems as issues rather than
// stopping at the first one.
func decode(raw map[string]any, rules []FieldRule) (*Event, []FieldIssue) {
	var issues []FieldIssue

	node, ok := raw[serviceUserKey]
	if !ok || node == nil {
		return nil, []FieldIssue{{
			Field:   serviceUserKey,
			Code:    "required",
			Message: "serviceuser object is required",
		}}
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, []FieldIssue{{
			Field:   serviceUserKey,
			Code:    "invalid_type",
			Message: fmt.Sprintf("serviceuser must be an object, got %s", jsonType(node)),
		}}
	}

	user := &ServiceUser{Fields: make(map[string]Value, len(rules))}

	var err error
	if user.AccountID, err = identifier(obj, "accountid"); err != nil {
		issues = append(issues, typeIssue("accountid", err))
	}
	if user.ContactID, err = identifier(obj, "contactid"); err != nil {
		issues = append(issues, typeIssue("contactid", err))
	}

	for _, rule := range rules {
		v, err := decodeValue(obj, rule.Source, rule.InferPresent)
		if err != nil {
			issues = append(issues, typeIssue(rule.Source, err))
			continue
		}
		if v.State == ExplicitNull && !rule.AllowNull {
			v = Value{}
		}
		user.Fields[rule.Source] = v
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
	return &Event{ServiceUser: user}, issues
}

func identifier(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", nil
	}
	s, err := scalarString(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func typeIssue(field string, err error) FieldIssue {
	return FieldIssue{
		Field:   serviceUserKey + "." + field,
		Code:    "invalid_type",
		Message: err.Error(),
	}
}
