package classify

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

const (
	MsgNotFound = "404 - Not found"
	MsgNoData   = "No data returned"
)

// Sanitize strips single quotes and backslashes so encoding artifacts do not
// defeat substring matching.
func Sanitize(body []byte) []byte {
	if bytes.IndexAny(body, `'\`) < 0 {
		return body
	}
	out := make([]byte, 0, len(body))
	for _, b := range body {
		if b != '\'' && b != '\\' {
			out = append(out, b)
		}
	}
	return out
}

// Classify reduces a transport outcome to a probe result. setupErr is a failure
// found before any I/O; it short-circuits everything else. The decision order is
// fixed: hard failures, then search markers (failed > search > maint), then the
// auth-challenge annotation.
func Classify(spec domain.TestSpec, out domain.TransportOutcome, setupErr error) domain.ProbeResult {
	r := domain.ProbeResult{
		TestID:       spec.ID,
		Type:         spec.Type,
		Result:       domain.ResultOK,
		ResultSearch: domain.SearchNotTested,
	}

	if setupErr != nil {
		r.Result = domain.ResultError
		r.ErrorMessage = setupErr.Error()
		r.ErrorKind = domain.KindOf(setupErr)
		return r
	}

	out.Body = Sanitize(out.Body)
	r.TransportOutcome = out
	if out.ErrorCode > 0 {
		r.ErrorMessage = out.ErrorText
		r.ErrorKind = domain.KindTransport
	}

	cat, _, _ := target.Decompose(spec.Type)
	if cat == target.CategoryWeb && out.HTTPStatus == http.StatusNotFound {
		r.Result = domain.ResultError
		r.ErrorMessage = MsgNotFound
		r.ErrorKind = domain.KindProtocol
		return r
	}

	if len(out.Body) == 0 && out.ErrorCode > 0 {
		r.Result = domain.ResultError
		r.ErrorMessage = MsgNoData
		r.ErrorKind = domain.KindTransport
		return r
	}

	r.ResultSearch = search(spec, out.Body)

	if spec.RequiresAuth && out.HTTPStatus != http.StatusUnauthorized {
		r.ErrorMessage = fmt.Sprintf("The requested URL returned error: %d", out.HTTPStatus)
		r.ErrorKind = domain.KindProtocol
	}
	return r
}

func search(spec domain.TestSpec, body []byte) domain.SearchResult {
	if spec.SearchFailed != "" && bytes.Contains(body, []byte(spec.SearchFailed)) {
		return domain.SearchFailedOK
	}
	if spec.Search != "" {
		if bytes.Contains(body, []byte(spec.Search)) {
			return domain.SearchOK
		}
		return domain.SearchNotOK
	}
	if spec.SearchMaint != "" && bytes.Contains(body, []byte(spec.SearchMaint)) {
		return domain.SearchMaintOK
	}
	return domain.SearchNotTested
}
