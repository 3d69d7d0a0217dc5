package notify

import (
	"fmt"
	"html"
)

// StatusReferenceURL points at a public description of an HTTP status.
const StatusReferenceURL = "https://httpstatuses.io/%d"

// StatusMessage renders the HTML alert text for url observed at code.
//
// Codes 0 and 1 mean the site could not be reached at all.
func StatusMessage(url string, code int) string {
	msg := fmt.Sprintf("Site: %s\n\n", html.EscapeString(url))

	switch {
	case code == 0 || code == 1:
		msg += fmt.Sprintf("Could not reach the site. 🤒\n\nStatus: %d", code)
	case code >= 200 && code <= 299:
		msg += "It's live and kicking! 🙂\n\nStatus: " + statusLink(code)
	case code >= 400 && code <= 499:
		msg += "The site refused the request. 🤔\n\nStatus: " + statusLink(code)
	case code >= 500 && code <= 599:
		msg += "It's down or failing on the server side. 😟\n\nStatus: " + statusLink(code)
	default:
		msg += fmt.Sprintf("Something is fishy! 🐟\n\nStatus: %d", code)
	}
	return msg
}

func statusLink(code int) string {
	return fmt.Sprintf("<a href='"+StatusReferenceURL+"'>%d</a>", code, code)
}
