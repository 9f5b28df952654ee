package stream

import (
	"bufio"
	"io"
	"strings"
)

const (
	// EventPrefix starts every payload-carrying line.
	EventPrefix = "data: "

	// DoneSentinel marks the end of the stream. It is never yielded.
	DoneSentinel = "data: [DONE]"
)

// Scanner splits an event-stream body into record payloads.
//
// Only complete lines are considered; a trailing fragment without a line
// terminator is discarded. Lines without the event prefix are ignored.
//
//	sc := stream.NewScanner(body)
//	for sc.Next() {
//	    handle(sc.Payload())
//	}
//	if err := sc.Err(); err != nil {
//	    // transport failure
//	}
type Scanner struct {
	reader  *bufio.Reader
	payload string
	done    bool
	err     error
}

// NewScanner creates a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next payload. It returns false at the sentinel,
// at EOF, or on a read error.
func (s *Scanner) Next() bool {
	s.payload = ""
	if s.done || s.err != nil {
		return false
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			// A partial line at EOF has no terminator and is dropped.
			if err != io.EOF {
				s.err = err
			}
			s.done = true
			return false
		}

		line = strings.TrimRight(line, " \t\r\n")
		if line == DoneSentinel {
			s.done = true
			return false
		}
		if !strings.HasPrefix(line, EventPrefix) {
			continue
		}

		s.payload = line[len(EventPrefix):]
		return true
	}
}

// Payload returns the current record payload without the event prefix.
func (s *Scanner) Payload() string {
	return s.payload
}

// Err returns the read error that stopped scanning, or nil on a clean end.
func (s *Scanner) Err() error {
	return s.err
}
