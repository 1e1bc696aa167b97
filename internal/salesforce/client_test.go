package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/metrics"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

type staticTokens struct {
	token       string
	invalidated atomic.Int32
}

func (s *staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }
func (s *staticTokens) Invalidate(ctx context.Context, accessToken string) {
	s.invalidated.Add(1)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tokens := &staticTokens{token: "tkn"}
	client := NewClient(ClientConfig{
		BaseURL:                server.URL + "/",
		APIVersion:             "62.0",
		Timeout:                time.Second,
		ContactExternalIDField: "APHA_Contact_Id__c",
	}, tokens, nil, logger.NopLogger())
	return client, tokens
}

func sampleRequest() *models.CompositeRequest {
	return &models.CompositeRequest{
		AllOrNone: true,
		CompositeRequest: []models.SubRequest{
			{Method: "PATCH", URL: "/services/data/v62.0/sobjects/Contact/X/C1", ReferenceID: "refContact", Body: map[string]any{"LastName": "Smith"}},
		},
	}
}

func TestClient_Composite(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/services/data/v62.0/composite", r.URL.Path)
		assert.Equal(t, "Bearer tkn", r.Header.Get("Authorization"))

		var req models.CompositeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.AllOrNone)
		assert.Equal(t, "refContact", req.CompositeRequest[0].ReferenceID)

		_, _ = w.Write([]byte(`{"compositeResponse":[{"httpStatusCode":201,"referenceId":"refContact","body":{"id":"003"}}]}`))
	})

	resp, err := client.Composite(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.JSONEq(t, `{"id":"003"}`, string(resp.CompositeResponse[0].Body))
}

func TestClient_UnauthorizedInvalidatesToken(t *testing.T) {
	client, tokens := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`[{"errorCode":"INVALID_SESSION_ID"}]`))
	})

	_, err := client.Composite(context.Background(), sampleRequest())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, int32(1), tokens.invalidated.Load())
}

func TestClient_Timeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	client.cfg.Timeout = 20 * time.Millisecond

	_, err := client.Composite(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, "timeout", forwardReason(err))
}

func TestForwarder_Outcomes(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantReason string
		wantStatus int
	}{
		{
			name:   "success",
			status: http.StatusOK,
			body:   `{"compositeResponse":[{"httpStatusCode":200,"referenceId":"refContact"}]}`,
		},
		{
			name:       "partial failure behind a 200",
			status:     http.StatusOK,
			body:       `{"compositeResponse":[{"httpStatusCode":201,"referenceId":"refAccount"},{"httpStatusCode":400,"referenceId":"refContact"}]}`,
			wantErr:    true,
			wantReason: "partial_failure",
		},
		{
			name:       "missing result array",
			status:     http.StatusOK,
			body:       `{"compositeResponse":null}`,
			wantErr:    true,
			wantReason: "partial_failure",
		},
		{
			name:       "server error",
			status:     http.StatusServiceUnavailable,
			body:       `unavailable`,
			wantErr:    true,
			wantReason: "http_503",
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			entityPath := "fwd-" + strings.ReplaceAll(tt.name, " ", "-")
			fwd := NewForwarder(client, entityPath, logger.NopLogger())

			_, err := fwd.Forward(context.Background(), sampleRequest())

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardOutcomesTotal.WithLabelValues(metrics.OutcomeSuccess, entityPath, metrics.ReasonNone)))
				return
			}

			var fe *ForwardError
			require.ErrorAs(t, err, &fe)
			assert.True(t, fe.IsRetryable())
			assert.Equal(t, "salesforce", fe.Integration)
			assert.Equal(t, tt.wantReason, fe.Reason)
			assert.Equal(t, tt.wantStatus, fe.StatusCode)
			assert.NotNil(t, errors.Unwrap(fe))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ForwardOutcomesTotal.WithLabelValues(metrics.OutcomeFailure, entityPath, tt.wantReason)))
			assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ForwardOutcomesTotal.WithLabelValues(metrics.OutcomeSuccess, entityPath, metrics.ReasonNone)))
		})
	}
}

func TestForwarder_PreservesPartialFailureCause(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"compositeResponse":[{"httpStatusCode":404,"referenceId":"refContact"}]}`))
	})
	_, err := NewForwarder(client, "cause", logger.NopLogger()).Forward(context.Background(), sampleRequest())

	var pf *models.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "refContact", pf.Failed[0].ReferenceID)
}

func TestEscapeSOQL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "C1", want: "C1"},
		{in: "O'Brien", want: `O\'Brien`},
		{in: `x' OR Id != '`, want: `x\' OR Id != \'`},
		{in: `back\slash`, want: `back\\slash`},
		{in: `\'`, want: `\\\'`},
		{in: "line\nbreak", want: `line\nbreak`},
		{in: `say "hi"`, want: `say \"hi\"`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeSOQL(tt.in))
		})
	}
}

func TestContactQuery_QuoteIsEscaped(t *testing.T) {
	q := ContactQuery("APHA_Contact_Id__c", "C1' OR Name != '")

	assert.Contains(t, q, `WHERE APHA_Contact_Id__c = 'C1\' OR Name != \'' LIMIT 1`)
	assert.NotContains(t, q, "'C1' OR")
}

func TestClient_LookupContact(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/data/v62.0/query", r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		if strings.Contains(gotQuery, "missing") {
			_, _ = w.Write([]byte(`{"totalSize":0,"done":true,"records":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalSize":1,"done":true,"records":[{"attributes":{"type":"Contact"},"Id":"003","LastName":"O'Brien"}]}`))
	})

	record, err := client.LookupContact(context.Background(), "C'1")
	require.NoError(t, err)
	assert.Equal(t, "003", record["Id"])
	assert.NotContains(t, record, "attributes")
	assert.Contains(t, gotQuery, `'C\'1'`)

	_, err = client.LookupContact(context.Background(), "missing")
	assert.Error(t, err)
}
