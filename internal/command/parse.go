package command

import (
	"strings"
	"unicode"
)

// Kind identifies a parsed chat command.
type Kind int

const (
	NotACommand Kind = iota
	Set
	Remove
	SetUsage    // "#set" without both a match and a response
	RemoveUsage // "#remove" without a match
	Unknown     // prefixed, but not a verb we handle
)

func (k Kind) String() string {
	switch k {
	case Set:
		return "set"
	case Remove:
		return "remove"
	case SetUsage:
		return "set_usage"
	case RemoveUsage:
		return "remove_usage"
	case Unknown:
		return "unknown"
	default:
		return "none"
	}
}

// Command is the result of parsing one chat message.
type Command struct {
	Kind      Kind
	MatchExpr string
	Response  string // Set only
}

// Parse interprets text as an admin command introduced by prefix.
//
//	#set <match> <response...>
//	#remove <match>
func Parse(text, prefix string) Command {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{Kind: NotACommand}
	}
	verb, rest := cutSpace(text[len(prefix):])
	switch verb {
	case "set":
		match, resp := cutSpace(rest)
		if match == "" || resp == "" {
			return Command{Kind: SetUsage}
		}
		return Command{Kind: Set, MatchExpr: match, Response: resp}
	case "remove":
		match, _ := cutSpace(rest)
		if match == "" {
			return Command{Kind: RemoveUsage}
		}
		return Command{Kind: Remove, MatchExpr: match}
	default:
		return Command{Kind: Unknown}
	}
}

// cutSpace splits s at the first run of whitespace and trims both halves.
func cutSpace(s string) (head, tail string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
