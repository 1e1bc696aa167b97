package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompositeResponse_Err(t *testing.T) {
	tests := []struct {
		name    string
		resp    *CompositeResponse
		wantErr bool
	}{
		{name: "nil response", resp: nil, wantErr: true},
		{name: "missing array", resp: &CompositeResponse{}, wantErr: true},
		{
			name: "all succeeded",
			resp: &CompositeResponse{CompositeResponse: []SubResponse{
				{HTTPStatusCode: 200, ReferenceID: "refAccount"},
				{HTTPStatusCode: 201, ReferenceID: "refContact"},
			}},
		},
		{
			name: "one failed",
			resp: &CompositeResponse{CompositeResponse: []SubResponse{
				{HTTPStatusCode: 201, ReferenceID: "refAccount"},
				{HTTPStatusCode: 400, ReferenceID: "refContact"},
			}},
			wantErr: true,
		},
		{
			name: "204 is outside the accepted range",
			resp: &CompositeResponse{CompositeResponse: []SubResponse{
				{HTTPStatusCode: 204, ReferenceID: "refAccount"},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Err()
			if tt.wantErr {
				var pf *PartialFailureError
				require.ErrorAs(t, err, &pf)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPartialFailureError_Message(t *testing.T) {
	err := (&CompositeResponse{CompositeResponse: []SubResponse{
		{HTTPStatusCode: 201, ReferenceID: "refAccount"},
		{HTTPStatusCode: 400, ReferenceID: "refContact"},
	}}).Err()

	assert.EqualError(t, err, "composite partial failure: 1 of 2 sub-requests failed (refContact=400)")
}

func TestCompositeRequestBuilder(t *testing.T) {
	t.Run("producer before consumer", func(t *testing.T) {
		req, err := NewCompositeRequestBuilder().
			WithAllOrNone(true).
			Add("PATCH", "/a", "refAccount", map[string]any{"Name": "Farm"}).
			Add("PATCH", "/c", "refContact", map[string]any{"AccountId": Reference("refAccount")}).
			Build()

		require.NoError(t, err)
		assert.True(t, req.AllOrNone)
		assert.Len(t, req.CompositeRequest, 2)
	})

	t.Run("consumer before producer is rejected", func(t *testing.T) {
		_, err := NewCompositeRequestBuilder().
			Add("PATCH", "/c", "refContact", map[string]any{"AccountId": Reference("refAccount")}).
			Add("PATCH", "/a", "refAccount", map[string]any{"Name": "Farm"}).
			Build()

		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "compositeRequest[0]", ve.Field)
	})

	t.Run("duplicate reference id", func(t *testing.T) {
		_, err := NewCompositeRequestBuilder().
			Add("PATCH", "/a", "ref", nil).
			Add("PATCH", "/b", "ref", nil).
			Build()
		assert.Error(t, err)
	})

	t.Run("empty request", func(t *testing.T) {
		_, err := NewCompositeRequestBuilder().Build()
		assert.Error(t, err)
	})
}

func TestValidateCompositeRequest_BodyDataIsNotInterpreted(t *testing.T) {
	req := &CompositeRequest{CompositeRequest: []SubRequest{
		{Method: "PATCH", URL: "/c", ReferenceID: "refContact", Body: map[string]any{"LastName": "@{nowhere.id}"}},
	}}
	assert.NoError(t, ValidateCompositeRequest(req))

	req.CompositeRequest[0].Body["AccountId"] = Reference("nowhere")
	var ve *ValidationError
	assert.ErrorAs(t, ValidateCompositeRequest(req), &ve)
}
