package stream

import (
	"bufio"
	"bytes"
	"io"
)

// ErrDone is returned by an SSE handler to stop reading without error.
type sentinelError string

func (e sentinelError) Error() string { return string(e) }

// ErrStop signals the reader to stop consuming further events.
const ErrStop = sentinelError("sse: stop")

// ReadSSE scans an event stream and invokes handle once per event with the
// joined data payload. Multi-line data fields are joined with newlines,
// comment lines are skipped, and frames split across network reads are
// reassembled by the line scanner. The terminal [DONE] sentinel ends the
// stream; a trailing event without a blank line is still flushed, so a
// handler always sees every event even when the upstream never sends DONE.
func ReadSSE(r io.Reader, handle func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var dataLines [][]byte
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		raw := bytes.Join(dataLines, []byte("\n"))
		dataLines = dataLines[:0]
		if bytes.Equal(bytes.TrimSpace(raw), []byte("[DONE]")) {
			return ErrStop
		}
		return handle(raw)
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			if err := flush(); err != nil {
				if err == ErrStop {
					return nil
				}
				return err
			}
			continue
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) {
			payload := bytes.TrimPrefix(line, []byte("data:"))
			// The SSE spec allows one optional space after the colon.
			if len(payload) > 0 && payload[0] == ' ' {
				payload = payload[1:]
			}
			cp := make([]byte, len(payload))
			copy(cp, payload)
			dataLines = append(dataLines, cp)
		}
		// Other fields (event:, id:) are ignored.
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil && err != ErrStop {
		return err
	}
	return nil
}
