package transform

import (
	"github.com/go-playground/validator/v10"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

// Transformer parses, validates and maps message bodies. It is safe for
// concurrent use.
type Transformer struct {
	validate *validator.Validate
	rules    []FieldRule
	mapper   *Mapper
}

func New(cfg MapperConfig, rules []FieldRule) *Transformer {
	if rules == nil {
		rules = DefaultRules
	}
	return &Transformer{
		validate: newValidator(),
		rules:    rules,
		mapper:   NewMapper(cfg, rules),
	}
}

func FromSettings(cfg config.SalesforceConfig) *Transformer {
	return New(MapperConfig{
		APIVersion:             cfg.APIVersion,
		AllOrNone:              cfg.AllOrNone,
		AccountExternalIDField: cfg.AccountExternalIDField,
		ContactExternalIDField: cfg.ContactExternalIDField,
	}, DefaultRules)
}

// Transform turns a raw body into a validated Event. Every problem found is
// reported in a single *ValidationError.
func (t *Transformer) Transform(body any) (*Event, error) {
	raw, err := ParseBody(body)
	if err != nil {
		return nil, err
	}

	ev, issues := decode(raw, t.rules)
	if ev == nil {
		return nil, &ValidationError{Issues: issues}
	}

	issues = append(issues, validateEvent(t.validate, ev, t.rules)...)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return ev, nil
}

func (t *Transformer) BuildCompositeRequest(ev *Event) (*models.CompositeRequest, error) {
	return t.mapper.BuildCompositeRequest(ev)
}

// Decode builds an Event from an already parsed body without running the
// field validators.
func (t *Transformer) Decode(raw map[string]any) (*Event, error) {
	ev, issues := decode(raw, t.rules)
	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return ev, nil
}

// Validate runs the struct and per-field rules against ev and reports every
// violation at once.
func (t *Transformer) Validate(ev *Event) error {
	if ev == nil || ev.ServiceUser == nil {
		return newValidationError(serviceUserKey, "required", "serviceuser object is required")
	}
	if issues := validateEvent(t.validate, ev, t.rules); len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
