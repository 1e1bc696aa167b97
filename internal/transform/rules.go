package transform

type Entity string

const (
	EntityAccount Entity = "account"
	EntityContact Entity = "contact"
)

// FieldRule maps one payload field onto one CRM field.
type FieldRule struct {
	Entity Entity
	Source string
	Target string
	// InferPresent copies the field when the sender sent no indicator.
	InferPresent bool
	// AllowNull writes an explicit null; otherwise null is treated as absent.
	AllowNull bool
	// Validate is a validator tag applied to present values.
	Validate string
}

var DefaultRules = []FieldRule{
	{Entity: EntityAccount, Source: "accountname", Target: "Name", InferPresent: true, Validate: "max=255"},
	{Entity: EntityAccount, Source: "accountphone", Target: "Phone", AllowNull: true, Validate: "max=40"},
	{Entity: EntityAccount, Source: "addressline1", Target: "BillingStreet", AllowNull: true, Validate: "max=255"},
	{Entity: EntityAccount, Source: "town", Target: "BillingCity", AllowNull: true, Validate: "max=40"},
	{Entity: EntityAccount, Source: "postcode", Target: "BillingPostalCode", AllowNull: true, Validate: "max=20"},

	{Entity: EntityContact, Source: "firstname", Target: "FirstName", InferPresent: true, Validate: "max=40"},
	{Entity: EntityContact, Source: "lastname", Target: "LastName", InferPresent: true, Validate: "max=80"},
	{Entity: EntityContact, Source: "email", Target: "Email", InferPresent: true, AllowNull: true, Validate: "email,max=80"},
	{Entity: EntityContact, Source: "phone", Target: "Phone", AllowNull: true, Validate: "max=40"},
	{Entity: EntityContact, Source: "mobile", Target: "MobilePhone", AllowNull: true, Validate: "max=40"},
	{Entity: EntityContact, Source: "cph", Target: "APHA_CPH__c", AllowNull: true, Validate: "cph"},
}

func rulesFor(rules []FieldRule, entity Entity) []FieldRule {
	out := make([]FieldRule, 0, len(rules))
	for _, r := range rules {
		if r.Entity == entity {
			out = append(out, r)
		}
	}
	return out
}
