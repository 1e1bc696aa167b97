package transform

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

const (
	RefAccount = "refAccount"
	RefContact = "refContact"

	// RuleNoWritableFields: an entity with an identifier must write at least one field.
	RuleNoWritableFields = "no_writable_fields"
	// RuleInvalidComposite: the assembled request breaks the composite contract.
	RuleInvalidComposite = "invalid_composite_request"

	referenceTokenPrefix = "@{"

	entityComposite Entity = "composite"
)

type MapperConfig struct {
	APIVersion             string
	AllOrNone              bool
	AccountExternalIDField string
	ContactExternalIDField string
}

// Mapper turns an Event into a composite upsert. Output depends only on
// the event and the config.
type Mapper struct {
	cfg   MapperConfig
	rules []FieldRule
}

func NewMapper(cfg MapperConfig, rules []FieldRule) *Mapper {
	if !strings.HasPrefix(cfg.APIVersion, "v") {
		cfg.APIVersion = "v" + cfg.APIVersion
	}
	return &Mapper{cfg: cfg, rules: rules}
}

// BuildCompositeRequest emits the account upsert first and the contact
// upsert second, linking the contact to the account by back-reference.
func (m *Mapper) BuildCompositeRequest(ev *Event) (*models.CompositeRequest, error) {
	if ev == nil || ev.ServiceUser == nil {
		return nil, newValidationError(serviceUserKey, "required", "serviceuser object is required")
	}
	user := ev.ServiceUser
	builder := models.NewCompositeRequestBuilder().WithAllOrNone(m.cfg.AllOrNone)

	var accountBody, contactBody map[string]any
	var issues []FieldIssue
	var mappingErr error
	collect := func(entity Entity) map[string]any {
		body, err := m.entityBody(user, entity)
		var ve *ValidationError
		switch {
		case errors.As(err, &ve):
			issues = append(issues, ve.Issues...)
		case err != nil && mappingErr == nil:
			mappingErr = err
		}
		return body
	}
	if user.AccountID != "" {
		accountBody = collect(EntityAccount)
	}
	if user.ContactID != "" {
		contactBody = collect(EntityContact)
	}
	// Bad input is reported before business-rule violations.
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	if mappingErr != nil {
		return nil, mappingErr
	}

	if accountBody != nil {
		builder.Add(http.MethodPatch, m.upsertURL("Account", m.cfg.AccountExternalIDField, user.AccountID), RefAccount, accountBody)
	}
	if contactBody != nil {
		if accountBody != nil {
			contactBody["AccountId"] = models.Reference(RefAccount)
		}
		builder.Add(http.MethodPatch, m.upsertURL("Contact", m.cfg.ContactExternalIDField, user.ContactID), RefContact, contactBody)
	}

	req, err := builder.Build()
	if err != nil {
		return nil, &MappingError{Entity: entityComposite, Rule: RuleInvalidComposite, Cause: err}
	}
	return req, nil
}

func (m *Mapper) entityBody(user *ServiceUser, entity Entity) (map[string]any, error) {
	body := make(map[string]any)
	var issues []FieldIssue
	for _, rule := range rulesFor(m.rules, entity) {
		switch v := user.Field(rule.Source); v.State {
		case Present:
			// The composite API resolves @{ref.field} anywhere in a body.
			if strings.Contains(v.Str, referenceTokenPrefix) {
				issues = append(issues, FieldIssue{
					Field:   serviceUserKey + "." + rule.Source,
					Code:    "reference_token",
					Message: "value must not contain a composite reference token",
				})
				continue
			}
			body[rule.Target] = v.Str
		case ExplicitNull:
			if rule.AllowNull {
				body[rule.Target] = nil
			}
		}
	}
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	if len(body) == 0 {
		return nil, &MappingError{Entity: entity, Rule: RuleNoWritableFields}
	}
	return body, nil
}

func (m *Mapper) upsertURL(object, externalIDField, id string) string {
	return "/services/data/" + m.cfg.APIVersion + "/sobjects/" + object + "/" + externalIDField + "/" + url.PathEscape(id)
}
