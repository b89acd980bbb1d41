package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"guidepost-server/internal/normalize"
)

// ReadStream consumes an SSE body and feeds each frame to the
// accumulator. Frames are "data: <json>" lines; "data: [DONE]" or EOF
// ends the stream. A cancelled ctx aborts the read without finalizing
// the message, so an interrupted stream never fires OnComplete.
func ReadStream(ctx context.Context, body io.Reader, acc *normalize.Accumulator) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var ev normalize.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("malformed stream frame: %w", err)
		}
		if err := acc.Feed(ev); err != nil {
			return err
		}
		if acc.Done() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}
