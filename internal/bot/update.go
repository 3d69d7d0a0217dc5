// Package bot turns Telegram updates into tracking operations and replies.
package bot

import "strings"

// Update is the subset of a Telegram update the bot reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// Command is a parsed "/name argument" message.
type Command struct {
	Name string
	Arg  string
}

// ParseCommand parses text of the form "/name[@bot] [argument]". Name and
// argument are lowercased. ok is false for text that is not a command.
func ParseCommand(text string) (cmd Command, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	head, rest, _ := strings.Cut(text, " ")
	name := strings.TrimPrefix(head, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{
		Name: strings.ToLower(name),
		Arg:  strings.ToLower(strings.TrimSpace(rest)),
	}, true
}
