package static

import (
	"net/http"
	"strconv"
	"strings"
)

// Response is a fully buffered file response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Mimetype string
}

// ResponseFunc builds a Response from file content and its media type.
type ResponseFunc func(body []byte, mimetype string) *Response

// NewResponse is the default ResponseFunc. Textual types get a utf-8
// charset on the Content-Type header; Mimetype stays bare.
func NewResponse(body []byte, mimetype string) *Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType(mimetype))
	h.Set("Content-Length", strconv.Itoa(len(body)))
	h.Set("X-Content-Type-Options", "nosniff")
	return &Response{
		Status:   http.StatusOK,
		Header:   h,
		Body:     body,
		Mimetype: mimetype,
	}
}

func contentType(mt string) string {
	if strings.Contains(mt, ";") {
		return mt
	}
	switch {
	case strings.HasPrefix(mt, "text/"),
		mt == "application/javascript",
		mt == "application/json",
		mt == "image/svg+xml",
		strings.HasSuffix(mt, "+xml"), strings.HasSuffix(mt, "+json"):
		return mt + "; charset=utf-8"
	}
	return mt
}

// ServeHTTP writes the response. HEAD requests get headers only.
func (resp *Response) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(resp.Body)
}
