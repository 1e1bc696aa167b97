package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

func newTestTransformer() *Transformer {
	return New(MapperConfig{
		APIVersion:             "62.0",
		AllOrNone:              true,
		AccountExternalIDField: "APHA_External_Id__c",
		ContactExternalIDField: "APHA_Contact_Id__c",
	}, nil)
}

func TestParseBody(t *testing.T) {
	structured := map[string]any{"serviceuser": map[string]any{"contactid": "C1"}, "x-meta": struct{}{}}

	tests := []struct {
		name     string
		body     any
		wantCode string
	}{
		{name: "structured passthrough", body: structured},
		{name: "json string", body: `{"serviceuser":{"contactid":"C1"}}`},
		{name: "json bytes", body: []byte(`{"serviceuser":{"contactid":"C1"}}`)},
		{name: "raw message", body: json.RawMessage(`{"serviceuser":{}}`)},
		{name: "nil body", body: nil, wantCode: "required"},
		{name: "blank string", body: "   ", wantCode: "required"},
		{name: "non-json string", body: "not json", wantCode: "invalid_json"},
		{name: "json array", body: `[1,2]`, wantCode: "invalid_type"},
		{name: "trailing data", body: `{} {}`, wantCode: "invalid_json"},
		{name: "invalid utf8", body: []byte{0xff, 0xfe, '{', '}'}, wantCode: "invalid_encoding"},
		{name: "unsupported type", body: 42, wantCode: "unsupported_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBody(tt.body)
			if tt.wantCode == "" {
				require.NoError(t, err)
				assert.NotNil(t, got)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Len(t, ve.Issues, 1)
			assert.Equal(t, tt.wantCode, ve.Issues[0].Code)
		})
	}

	t.Run("structured body is not copied", func(t *testing.T) {
		got, err := ParseBody(structured)
		require.NoError(t, err)
		assert.Contains(t, got, "x-meta")
	})

	t.Run("unsupported type names the type", func(t *testing.T) {
		_, err := ParseBody(3.5)
		assert.ErrorContains(t, err, "float64")
	})
}

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name         string
		raw          map[string]any
		inferPresent bool
		want         Value
	}{
		{name: "indicator true", raw: map[string]any{"town": "Leeds", "town_hasvalue": true}, want: PresentValue("Leeds")},
		{name: "indicator false wins over value", raw: map[string]any{"town": "Leeds", "town_hasvalue": false}, want: Value{}},
		{name: "no indicator, not inferred", raw: map[string]any{"town": "Leeds"}, want: Value{}},
		{name: "no indicator, inferred", raw: map[string]any{"town": "Leeds"}, inferPresent: true, want: PresentValue("Leeds")},
		{name: "trimmed", raw: map[string]any{"town": "  Leeds ", "town_hasvalue": true}, want: PresentValue("Leeds")},
		{name: "empty after trim is absent", raw: map[string]any{"town": "   ", "town_hasvalue": true}, want: Value{}},
		{name: "explicit null", raw: map[string]any{"town": nil, "town_hasvalue": true}, want: NullValue()},
		{name: "indicator as string", raw: map[string]any{"town": "York", "town_hasvalue": "true"}, want: PresentValue("York")},
		{name: "number coerced", raw: map[string]any{"town": json.Number("12"), "town_hasvalue": true}, want: PresentValue("12")},
		{name: "missing field", raw: map[string]any{"town_hasvalue": true}, want: Value{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeValue(tt.raw, "town", tt.inferPresent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := decodeValue(map[string]any{"town": []any{"x"}, "town_hasvalue": true}, "town", false)
	assert.Error(t, err)
}

func TestTransform_CollectsAllIssues(t *testing.T) {
	tr := newTestTransformer()

	_, err := tr.Transform(`{
		"serviceuser": {
			"email": "not-an-email",
			"cph": "12-345",
			"cph_hasvalue": true,
			"firstname": {"nested": true},
			"unknownfield": "tolerated"
		}
	}`)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, ve.IsRetryable())

	fields := make(map[string]string)
	for _, issue := range ve.Issues {
		fields[issue.Field] = issue.Code
	}
	assert.Equal(t, "required_without", fields["serviceuser.accountid"])
	assert.Equal(t, "required_without", fields["serviceuser.contactid"])
	assert.Equal(t, "email", fields["serviceuser.email"])
	assert.Equal(t, "cph", fields["serviceuser.cph"])
	assert.Equal(t, "invalid_type", fields["serviceuser.firstname"])
	assert.NotContains(t, fields, "serviceuser.unknownfield")
}

func TestTransform_MissingServiceUser(t *testing.T) {
	_, err := newTestTransformer().Transform(`{"other":{}}`)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "serviceuser", ve.Issues[0].Field)
}

func TestBuildCompositeRequest_AccountAndContact(t *testing.T) {
	tr := newTestTransformer()
	ev, err := tr.Transform(`{
		"serviceuser": {
			"accountid": "A-1",
			"accountname": "Hill Farm",
			"contactid": "C-1",
			"firstname": "Ann",
			"lastname": "Smith",
			"phone": null,
			"phone_hasvalue": true
		}
	}`)
	require.NoError(t, err)

	req, err := tr.BuildCompositeRequest(ev)
	require.NoError(t, err)

	require.Len(t, req.CompositeRequest, 2)
	account, contact := req.CompositeRequest[0], req.CompositeRequest[1]

	assert.Equal(t, RefAccount, account.ReferenceID)
	assert.Equal(t, "PATCH", account.Method)
	assert.Equal(t, "/services/data/v62.0/sobjects/Account/APHA_External_Id__c/A-1", account.URL)
	assert.Equal(t, map[string]any{"Name": "Hill Farm"}, account.Body)

	assert.Equal(t, RefContact, contact.ReferenceID)
	assert.Equal(t, "/services/data/v62.0/sobjects/Contact/APHA_Contact_Id__c/C-1", contact.URL)
	assert.Equal(t, "@{refAccount.id}", contact.Body["AccountId"])
	assert.Equal(t, "Ann", contact.Body["FirstName"])
	assert.Contains(t, contact.Body, "Phone")
	assert.Nil(t, contact.Body["Phone"])
	assert.True(t, req.AllOrNone)
}

func TestBuildCompositeRequest_Deterministic(t *testing.T) {
	tr := newTestTransformer()
	body := `{"serviceuser":{"accountid":"A-1","accountname":"Hill Farm","town":"Leeds","town_hasvalue":true,
		"contactid":"C-1","lastname":"Smith","email":"a@b.com","mobile":"0770","mobile_hasvalue":true}}`

	encode := func() []byte {
		ev, err := tr.Transform(body)
		require.NoError(t, err)
		req, err := tr.BuildCompositeRequest(ev)
		require.NoError(t, err)
		out, err := json.Marshal(req)
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, encode(), encode())
}

func TestBuildCompositeRequest_EscapesIdentifier(t *testing.T) {
	tr := newTestTransformer()
	ev, err := tr.Transform(`{"serviceuser":{"contactid":"C/1 ?x","lastname":"Smith"}}`)
	require.NoError(t, err)

	req, err := tr.BuildCompositeRequest(ev)
	require.NoError(t, err)
	assert.Equal(t, "/services/data/v62.0/sobjects/Contact/APHA_Contact_Id__c/C%2F1%20%3Fx", req.CompositeRequest[0].URL)
}

func TestBuildCompositeRequest_NoWritableFields(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		entity Entity
	}{
		{name: "contact id only", body: `{"serviceuser":{"contactid":"C1"}}`, entity: EntityContact},
		{name: "account fields all absent", body: `{"serviceuser":{"accountid":"A1","town":"Leeds","town_hasvalue":false}}`, entity: EntityAccount},
		{name: "null not allowed on name", body: `{"serviceuser":{"accountid":"A1","accountname":null}}`, entity: EntityAccount},
		{name: "back-reference alone is not a field", body: `{"serviceuser":{"accountid":"A1","accountname":"Farm","contactid":"C1"}}`, entity: EntityContact},
	}

	tr := newTestTransformer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tr.Transform(tt.body)
			require.NoError(t, err)

			req, err := tr.BuildCompositeRequest(ev)
			assert.Nil(t, req)

			var me *MappingError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.entity, me.Entity)
			assert.Equal(t, RuleNoWritableFields, me.Rule)
			assert.False(t, me.IsRetryable())
		})
	}
}

func TestBuildCompositeRequest_ReferencesValidate(t *testing.T) {
	tr := newTestTransformer()
	ev, err := tr.Transform(`{"serviceuser":{"accountid":"A1","accountname":"Farm","contactid":"C1","lastname":"Smith"}}`)
	require.NoError(t, err)

	req, err := tr.BuildCompositeRequest(ev)
	require.NoError(t, err)
	assert.NoError(t, models.ValidateCompositeRequest(req))
}

func TestValidationError_AppError(t *testing.T) {
	ve := &ValidationError{Issues: []FieldIssue{{Field: "serviceuser.email", Code: "email", Message: "bad"}}}
	appErr := ve.AppError()

	assert.Equal(t, 400, appErr.Status)
	assert.Equal(t, ve.Issues, appErr.Details["errors"])
	assert.False(t, appErr.IsRetryable())
}

func TestDecodeThenValidate(t *testing.T) {
	tr := newTestTransformer()

	ev, err := tr.Decode(map[string]any{"serviceuser": map[string]any{"contactid": " C1 ", "email": "nope"}})
	require.NoError(t, err)
	assert.Equal(t, "C1", ev.ServiceUser.ContactID)

	err = tr.Validate(ev)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Issues, 1)
	assert.Equal(t, "serviceuser.email", ve.Issues[0].Field)

	var missing *ValidationError
	require.ErrorAs(t, tr.Validate(&Event{}), &missing)
	assert.Equal(t, "required", missing.Issues[0].Code)
}

func TestBuildCompositeRequest_RejectsReferenceTokens(t *testing.T) {
	tr := newTestTransformer()

	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{
			name:       "unknown reference on contact",
			body:       `{"serviceuser":{"contactid":"C1","lastname":"@{evil.id}"}}`,
			wantFields: []string{"serviceuser.lastname"},
		},
		{
			name:       "valid reference on linked contact",
			body:       `{"serviceuser":{"accountid":"A1","accountname":"Farm","contactid":"C1","lastname":"@{refAccount.id}"}}`,
			wantFields: []string{"serviceuser.lastname"},
		},
		{
			name:       "both entities reported together",
			body:       `{"serviceuser":{"accountid":"A1","accountname":"x @{a.id}","contactid":"C1","firstname":"@{b.Name}","lastname":"Smith"}}`,
			wantFields: []string{"serviceuser.accountname", "serviceuser.firstname"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tr.Transform(tt.body)
			require.NoError(t, err)

			req, err := tr.BuildCompositeRequest(ev)
			assert.Nil(t, req)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.False(t, ve.IsRetryable())

			var fields []string
			for _, issue := range ve.Issues {
				assert.Equal(t, "reference_token", issue.Code)
				fields = append(fields, issue.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestBuildCompositeRequest_ReferenceLikeIdentifierIsEscaped(t *testing.T) {
	tr := newTestTransformer()
	ev, err := tr.Transform(`{"serviceuser":{"contactid":"@{evil.id}","lastname":"Smith"}}`)
	require.NoError(t, err)

	req, err := tr.BuildCompositeRequest(ev)
	require.NoError(t, err)
	assert.NotContains(t, req.CompositeRequest[0].URL, "@{")
}

func TestMappingError_WrapsCause(t *testing.T) {
	cause := &models.ValidationError{Field: "compositeRequest[0]", Message: "bad"}
	err := &MappingError{Entity: entityComposite, Rule: RuleInvalidComposite, Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsRetryable())
	assert.Equal(t, 422, err.AppError().Status)
}
