package irc

import (
	"regexp"
	"strings"
)

// Message is one parsed inbound line: *ChannelMessage or Unrecognized.
type Message interface {
	isMessage()
}

// ChannelMessage is a PRIVMSG sent to a channel.
type ChannelMessage struct {
	User    string
	Channel string // without the leading '#'
	Text    string
	Raw     string // the line without its terminator
}

// Unrecognized is any other line, verbatim minus the terminator.
type Unrecognized string

func (*ChannelMessage) isMessage() {}
func (Unrecognized) isMessage()    {}

var channelMessageRe = regexp.MustCompile(`^:([^!\s]+)![^@\s]*@\S*\.tmi\.twitch\.tv PRIVMSG #(\S+) :(.*)$`)

// Parse classifies a raw line. It never fails.
func Parse(line string) Message {
	raw := trimTerminator(line)
	if m := channelMessageRe.FindStringSubmatch(raw); m != nil {
		return &ChannelMessage{User: m[1], Channel: m[2], Text: m[3], Raw: raw}
	}
	return Unrecognized(raw)
}

// PingToken reports whether line is a server PING and returns its argument.
func PingToken(line string) (string, bool) {
	raw := trimTerminator(line)
	if !strings.HasPrefix(raw, "PING") {
		return "", false
	}
	rest := strings.TrimPrefix(raw, "PING")
	if rest != "" && rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}
