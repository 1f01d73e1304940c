/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/stretchr/testify/require"
)

const contentTypeAppJSON = "application/json"

// errorResponse mirrors the {"error": {"domain": ..., "code": ...}} body of the status server.
type errorResponse struct {
	Error struct {
		Domain string `json:"domain"`
		Code   string `json:"code"`
	} `json:"error"`
}

// httpResult is a common view of an httptest.ResponseRecorder and an http.Response.
type httpResult struct {
	code   int
	header http.Header
	body   io.Reader
}

func recorderResult(rec *httptest.ResponseRecorder) httpResult {
	return httpResult{code: rec.Code, header: rec.Header(), body: rec.Body}
}

func responseResult(resp *http.Response) httpResult {
	return httpResult{code: resp.StatusCode, header: resp.Header, body: resp.Body}
}

// RequireErrorInRecorder asserts that the recorded response has the given status and error domain/code in its JSON body.
func RequireErrorInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireError(t, recorderResult(resp), wantHTTPCode, wantErrDomain, wantErrCode)
}

// RequireErrorInResponse is the same as RequireErrorInRecorder but for a real http.Response.
func RequireErrorInResponse(t require.TestingT, resp *http.Response, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireError(t, responseResult(resp), wantHTTPCode, wantErrDomain, wantErrCode)
}

func requireError(t require.TestingT, res httpResult, wantHTTPCode int, wantErrDomain, wantErrCode string) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, wantHTTPCode, res.code)
	require.Equal(t, contentTypeAppJSON, res.header.Get("Content-Type"))
	var errResp errorResponse
	require.NoError(t, json.NewDecoder(res.body).Decode(&errResp))
	require.Equal(t, wantErrDomain, errResp.Error.Domain)
	require.Equal(t, wantErrCode, errResp.Error.Code)
}

// RequireJSONInRecorder decodes the recorded JSON body into dest and asserts it's equal to want.
// dest must be a pointer of the same type as want.
func RequireJSONInRecorder(t require.TestingT, resp *httptest.ResponseRecorder, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireJSON(t, recorderResult(resp), want, dest)
}

// RequireJSONInResponse is the same as RequireJSONInRecorder but for a real http.Response.
func RequireJSONInResponse(t require.TestingT, resp *http.Response, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	requireJSON(t, responseResult(resp), want, dest)
}

func requireJSON(t require.TestingT, res httpResult, want, dest interface{}) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	require.Equal(t, contentTypeAppJSON, res.header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(res.body).Decode(dest))
	require.Equal(t, want, dest)
}
