package server

import (
	"encoding/json"
	"errors"
	"net"
	"strings"
)

// ChatFrame is the JSON text frame sent to clients for chat messages and
// system notices alike. Message holds rendered markup.
type ChatFrame struct {
	User    string `json:"user"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

func encodeFrame(f ChatFrame) []byte {
	// Marshalling a struct of strings cannot fail.
	data, _ := json.Marshal(f)
	return data
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
