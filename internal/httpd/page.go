package httpd

import (
	"net/http"
	"strconv"
)

// statusPage generates a minimal HTML page for an error status.
func statusPage(status int) []byte {
	code := strconv.Itoa(status)
	text := http.StatusText(status)
	if text == "" {
		text = "Unknown"
	}
	title := code + " " + text
	b := make([]byte, 0, 160+2*len(title))
	b = append(b, "<!DOCTYPE html>\n<html>\n<head>\n  <title>"...)
	b = append(b, title...)
	b = append(b, "</title>\n</head>\n<body>\n  <center><h1>"...)
	b = append(b, title...)
	b = append(b, "</h1></center>\n  <hr>\n  <center>"...)
	b = append(b, ServerHeader...)
	b = append(b, "</center>\n</body>\n</html>\n"...)
	return b
}
