package llmclient

import (
	"bufio"
	"io"
	"strings"
)

// SSEScanner iterates the data payloads of a server-sent-event stream.
// Comment lines, event/id fields, and blank separators are skipped;
// adapters only ever act on data lines.
type SSEScanner struct {
	scanner *bufio.Scanner
}

// NewSSEScanner wraps a stream body. The buffer accommodates large
// single-frame payloads.
func NewSSEScanner(r io.Reader) *SSEScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEScanner{scanner: sc}
}

// Next returns the next data payload. ok is false at end of stream;
// Err distinguishes clean EOF from transport failure.
func (s *SSEScanner) Next() (data string, ok bool) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
	}
	return "", false
}

// Err returns the transport error that ended the stream, if any.
func (s *SSEScanner) Err() error { return s.scanner.Err() }
