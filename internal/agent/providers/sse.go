package providers

import (
	"bufio"
	"io"
	"strings"
)

// sseMaxLineSize bounds a single SSE line; model deltas are small but tool
// arguments can arrive as one large fragment.
const sseMaxLineSize = 1 << 20

// scanSSE reads server-sent events from r and invokes handler once per
// event with the event name (may be empty) and the joined data payload.
// Multi-line data fields are joined with newlines per the SSE spec;
// comment, id, and retry lines are ignored. Returning an error from the
// handler stops the scan.
func scanSSE(r io.Reader, handler func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), sseMaxLineSize)

	var eventType string
	var dataLines []string

	flush := func() error {
		if eventType == "" && len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		err := handler(eventType, data)
		eventType = ""
		dataLines = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}

	if err := flush(); err != nil {
		return err
	}
	return scanner.Err()
}
