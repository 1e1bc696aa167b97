package models

type CompositeRequestBuilder struct {
	request *CompositeRequest
}

func NewCompositeRequestBuilder() *CompositeRequestBuilder {
	return &CompositeRequestBuilder{
		request: &CompositeRequest{CompositeRequest: []SubRequest{}},
	}
}

func (b *CompositeRequestBuilder) WithAllOrNone(allOrNone bool) *CompositeRequestBuilder {
	b.request.AllOrNone = allOrNone
	return b
}

func (b *CompositeRequestBuilder) Add(method, url, referenceID string, body map[string]any) *CompositeRequestBuilder {
	b.request.CompositeRequest = append(b.request.CompositeRequest, SubRequest{
		Method:      method,
		URL:         url,
		ReferenceID: referenceID,
		Body:        body,
	})
	return b
}

func (b *CompositeRequestBuilder) Len() int {
	return len(b.request.CompositeRequest)
}

// Build checks reference ordering before returning the request.
func (b *CompositeRequestBuilder) Build() (*CompositeRequest, error) {
	if err := ValidateCompositeRequest(b.request); err != nil {
		return nil, err
	}
	return b.request, nil
}
