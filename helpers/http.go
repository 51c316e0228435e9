package helpers

import (
	"bufio"
	"bytes"
	"net/http"
)

// MockHTTP is a RoundTripper for client tests: canned response bytes or
// a function, no network involved. Zero value serves an empty 200.
type MockHTTP struct {
	Fun    func(*http.Request) (*http.Response, error)
	Header []byte
	Body   []byte
	Err    error
}

var _ http.RoundTripper = &MockHTTP{}

func (m *MockHTTP) RoundTrip(req *http.Request) (*http.Response, error) {
	switch {
	case m.Fun != nil:
		return m.Fun(req)
	case m.Err != nil:
		return nil, m.Err
	}
	header := m.Header
	if header == nil {
		header = []byte("HTTP/1.0 200 OK\r\n\r\n")
	}
	rb := append(append(make([]byte, 0, len(header)+len(m.Body)), header...), m.Body...)
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(rb)), req)
}
