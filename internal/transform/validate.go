package transform

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var cphPattern = regexp.MustCompile(`^\d{2}/\d{3}/\d{4}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("cph", func(fl validator.FieldLevel) bool {
		return cphPattern.MatchString(fl.Field().String())
	})
	return v
}

// validateEvent collects every rule violation into issues.
func validateEvent(v *validator.Validate, ev *Event, rules []FieldRule) []FieldIssue {
	var issues []FieldIssue
	user := ev.ServiceUser

	if err := v.Struct(user); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return append(issues, FieldIssue{Field: serviceUserKey, Code: "invalid", Message: err.Error()})
		}
		for _, fe := range verrs {
			issues = append(issues, FieldIssue{
				Field:   serviceUserKey + "." + fe.Field(),
				Code:    fe.Tag(),
				Message: issueMessage(fe.Field(), fe.Tag(), fe.Param()),
			})
		}
	}

	for _, rule := range rules {
		val := user.Field(rule.Source)
		if !val.IsPresent() || rule.Validate == "" {
			continue
		}
		if err := v.Var(val.Str, rule.Validate); err != nil {
			var verrs validator.ValidationErrors
			if !errors.As(err, &verrs) {
				continue
			}
			for _, fe := range verrs {
				issues = append(issues, FieldIssue{
					Field:   serviceUserKey + "." + rule.Source,
					Code:    fe.Tag(),
					Message: issueMessage(rule.Source, fe.Tag(), fe.Param()),
				})
			}
		}
	}
	return issues
}

func issueMessage(field, tag, param string) string {
	switch tag {
	case "required_without":
		return fmt.Sprintf("%s is required when %s is not provided", field, strings.ToLower(param))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "cph":
		return fmt.Sprintf("%s must be a county/parish/holding number (NN/NNN/NNNN)", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, tag)
	}
}
