/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubResponse struct {
	code        int
	contentType string
	body        string
}

func (s stubResponse) write(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", s.contentType)
	rw.WriteHeader(s.code)
	_, _ = rw.Write([]byte(s.body))
}

// forRecorderAndResponse runs the check against an httptest.ResponseRecorder and a response of a real server.
func forRecorderAndResponse(
	t *testing.T, stub stubResponse, check func(mockT *MockT, rec *httptest.ResponseRecorder, resp *http.Response),
) {
	t.Helper()

	rec := httptest.NewRecorder()
	stub.write(rec)
	mockT := &MockT{}
	check(mockT, rec, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) { stub.write(rw) }))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	check(&MockT{}, nil, resp)
}

func TestRequireError(t *testing.T) {
	const notFoundBody = `{"error":{"domain":"KeyProbe","code":"notFound"}}`
	tests := []struct {
		name       string
		stub       stubResponse
		wantFailed bool
	}{
		{
			name: "matched",
			stub: stubResponse{http.StatusNotFound, contentTypeAppJSON, notFoundBody},
		},
		{
			name:       "other status",
			stub:       stubResponse{http.StatusBadRequest, contentTypeAppJSON, notFoundBody},
			wantFailed: true,
		},
		{
			name:       "not a JSON response",
			stub:       stubResponse{http.StatusNotFound, "text/html", notFoundBody},
			wantFailed: true,
		},
		{
			name:       "other domain",
			stub:       stubResponse{http.StatusNotFound, contentTypeAppJSON, `{"error":{"domain":"OpenAI","code":"notFound"}}`},
			wantFailed: true,
		},
		{
			name:       "other code",
			stub:       stubResponse{http.StatusNotFound, contentTypeAppJSON, `{"error":{"domain":"KeyProbe","code":"internalError"}}`},
			wantFailed: true,
		},
		{
			name:       "malformed body",
			stub:       stubResponse{http.StatusNotFound, contentTypeAppJSON, `{"error":`},
			wantFailed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forRecorderAndResponse(t, tt.stub, func(mockT *MockT, rec *httptest.ResponseRecorder, resp *http.Response) {
				if rec != nil {
					RequireErrorInRecorder(mockT, rec, http.StatusNotFound, "KeyProbe", "notFound")
				} else {
					RequireErrorInResponse(mockT, resp, http.StatusNotFound, "KeyProbe", "notFound")
				}
				require.Equal(t, tt.wantFailed, mockT.Failed)
			})
		})
	}
}

func TestRequireJSON(t *testing.T) {
	type summary struct {
		Total int `json:"total"`
		Valid int `json:"valid"`
	}
	tests := []struct {
		name       string
		stub       stubResponse
		wantFailed bool
	}{
		{
			name: "matched",
			stub: stubResponse{http.StatusOK, contentTypeAppJSON, `{"total":3,"valid":2}`},
		},
		{
			name:       "not a JSON response",
			stub:       stubResponse{http.StatusOK, "text/plain", `{"total":3,"valid":2}`},
			wantFailed: true,
		},
		{
			name:       "other data",
			stub:       stubResponse{http.StatusOK, contentTypeAppJSON, `{"total":3,"valid":1}`},
			wantFailed: true,
		},
		{
			name:       "malformed body",
			stub:       stubResponse{http.StatusOK, contentTypeAppJSON, `{"total":3,`},
			wantFailed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forRecorderAndResponse(t, tt.stub, func(mockT *MockT, rec *httptest.ResponseRecorder, resp *http.Response) {
				want := &summary{Total: 3, Valid: 2}
				if rec != nil {
					RequireJSONInRecorder(mockT, rec, want, &summary{})
				} else {
					RequireJSONInResponse(mockT, resp, want, &summary{})
				}
				require.Equal(t, tt.wantFailed, mockT.Failed)
			})
		})
	}
}
