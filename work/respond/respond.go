package respond

import (
	"fmt"
	"net"
	"strconv"

	"lsproxy/work/metrics"
)

// reasonPhrase maps the handful of status codes the proxy emits to their
// standard reason phrases. Players only understand standard codes, so nothing
// proxy-specific is ever invented here.
func reasonPhrase(code int) string {
	switch code {
	case 400:
		return "Bad Request"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	default:
		return "Error"
	}
}

// WriteError builds a minimal HTTP/1.1 error response with an HTML body and
// writes it to the connection. The connection is closed regardless of whether
// the write succeeds; per-connection failures are always terminal.
func WriteError(conn net.Conn, code int, message string) {
	body := fmt.Sprintf("<html><body><h1>%d %s</h1><p>%s</p></body></html>",
		code, reasonPhrase(code), message)

	response := fmt.Sprintf("HTTP/1.1 %d %s\r\n"+
		"Content-Type: text/html\r\n"+
		"Content-Length: %d\r\n"+
		"Connection: close\r\n"+
		"\r\n%s", code, reasonPhrase(code), len(body), body)

	conn.Write([]byte(response))
	conn.Close()

	metrics.ErrorResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}
