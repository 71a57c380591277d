package provider

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// requestTimeout bounds every provider call. The fetch engine does not
// cancel in-flight calls on shutdown; this timeout is the backstop.
const requestTimeout = 20 * time.Second

const maxResponseBytes = 1 << 20

var httpClient = &http.Client{Timeout: requestTimeout}

// doRequest performs a provider API call and returns the status code and
// body. Transport failures come back as errors; non-2xx statuses are left
// for the caller to classify, since some capabilities read data out of error
// responses.
func doRequest(ctx context.Context, method, targetURL string, body []byte, headers http.Header) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, errReq := http.NewRequestWithContext(reqCtx, method, targetURL, reader)
	if errReq != nil {
		return 0, nil, errReq
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, errResp := httpClient.Do(req)
	if errResp != nil {
		return 0, nil, errResp
	}
	defer func() { _ = resp.Body.Close() }()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return resp.StatusCode, nil, errRead
	}
	return resp.StatusCode, payload, nil
}

func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
