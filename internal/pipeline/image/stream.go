package image

import (
	"encoding/json"
	"fmt"
	"io"
)

// streamMessage is one JSON object of the docker build/push progress
// stream. The daemon reports failures inline as an error entry rather than
// via the HTTP status, so the stream must be drained to detect them.
type streamMessage struct {
	Stream string `json:"stream"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// decodeStream drains a docker progress stream, forwarding human-readable
// lines to log and returning the first inline error, if any.
func decodeStream(r io.Reader, log func(string)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var msg streamMessage
		if err := decoder.Decode(&msg); err != nil {
			return fmt.Errorf("failed to decode progress stream: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
		if msg.Stream != "" {
			log(msg.Stream)
		} else if msg.Status != "" {
			log(msg.Status)
		}
	}
	return nil
}
