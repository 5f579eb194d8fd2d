// Package alpaca serves mount devices over the ASCOM Alpaca REST API, the
// management API and the UDP discovery protocol.
//
// Documentation: https://ascom-standards.org/api/
package alpaca

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// Global transaction counter
var txCounter atomic.Uint32

type baseResponse struct {
	ClientTransactionID uint32 `json:"ClientTransactionID"`
	ServerTransactionID uint32 `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// Helper to read and parse the request body as URL-encoded data.
func parseBodyParams(r *http.Request) (url.Values, error) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

// requestParams returns the query parameters of a GET or the form body of a
// PUT.
func requestParams(r *http.Request) (url.Values, error) {
	if r.Method == http.MethodPut {
		return parseBodyParams(r)
	}
	return r.URL.Query(), nil
}

// lookup finds a parameter by name, ignoring case as the Alpaca API requires.
func lookup(params url.Values, name string) (string, bool) {
	for param, value := range params {
		if strings.EqualFold(param, name) && len(value) > 0 {
			return value[0], true
		}
	}
	return "", false
}

// getClientTxID obtains the client transaction ID from the request
// parameters. A missing ID is reported as zero.
func getClientTxID(params url.Values) (uint32, error) {
	value, ok := lookup(params, "ClientTransactionID")
	if !ok {
		return 0, nil
	}
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, errors.New("ClientTransactionID must be a non-negative integer")
	}
	return uint32(id), nil
}

func writeResponse(w http.ResponseWriter, r *http.Request, response baseResponse) {
	params, err := requestParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	txID, err := getClientTxID(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	response.ServerTransactionID = txCounter.Add(1)
	response.ClientTransactionID = txID
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleResponse(w http.ResponseWriter, r *http.Request, value any) {
	writeResponse(w, r, baseResponse{Value: value})
}

// handleError reports err with its Alpaca error number. Alpaca errors travel
// in the body of a 200 response.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	writeResponse(w, r, baseResponse{
		ErrorNumber:  errorCode(err),
		ErrorMessage: err.Error(),
	})
}

// handleMgm adapts a management endpoint returning a value.
func handleMgm(fn func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := fn(r)
		if err != nil {
			handleError(w, r, err)
			return
		}
		handleResponse(w, r, value)
	})
}

// parseRequest reads field from the request body.
func parseRequest(r *http.Request, field string) (string, error) {
	params, err := requestParams(r)
	if err != nil {
		return "", err
	}

	value, ok := lookup(params, field)
	if !ok {
		return "", invalidValue("missing parameter %s", field)
	}
	return value, nil
}

func parseBoolRequest(r *http.Request, field string) (bool, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, invalidValue("%s: %q is not a boolean", field, value)
	}
	return b, nil
}

func parseFloatRequest(r *http.Request, field string) (float64, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, invalidValue("%s: %q is not a number", field, value)
	}
	return f, nil
}

func parseIntRequest(r *http.Request, field string) (int, error) {
	value, err := parseRequest(r, field)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, invalidValue("%s: %q is not an integer", field, value)
	}
	return i, nil
}
