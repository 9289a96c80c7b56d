// Package channel holds the wire naming contract shared by every courier
// service: command channels, presence keys, configuration keys and the log
// bus. Services and clients (courierctl) must agree on these names exactly.
package channel

import (
	"errors"
	"fmt"
	"strings"
)

const (
	commandSegment = "command"

	// NamesPrefix is the key namespace of presence records.
	NamesPrefix = "names/"
	// ConfigurationsPrefix is the key namespace of configuration items.
	ConfigurationsPrefix = "configurations/"
	// ConfigurationLoad signals an external loader to push a unit into the store.
	ConfigurationLoad = "configurations/load"
	// ConfigurationSave signals an external writer to persist a unit from the store.
	ConfigurationSave = "configurations/save"
	// LogRecord is the channel log records are published to.
	LogRecord = "logs/record"
)

// Built-in commands every runtime answers.
const (
	CommandPause    = "pause"
	CommandResume   = "resume"
	CommandShutdown = "shutdown"
)

var ErrMalformedChannel = errors.New("malformed command channel")

// CommandPattern returns the PSUBSCRIBE pattern a service listens on.
func CommandPattern(service string) string {
	return service + "/" + commandSegment + "*"
}

// CommandRoot is the channel carrying the command name in its payload.
func CommandRoot(service string) string {
	return service + "/" + commandSegment
}

// Command returns the channel a named command is published to.
func Command(service, command string) string {
	return CommandRoot(service) + "/" + command
}

// ParseCommand extracts the command name and its content from a channel
// received on the command pattern of service. The segment after the last
// '/' names the command, except for the bare command root where the payload
// is the command name and the content is empty.
func ParseCommand(service, ch, payload string) (name, content string, err error) {
	if len(ch) < len(CommandRoot(service)) {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedChannel, ch)
	}
	idx := strings.LastIndexByte(ch, '/')
	if idx < 0 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedChannel, ch)
	}
	name = ch[idx+1:]
	content = payload
	if name == commandSegment {
		name, content = payload, ""
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: empty command name on %q", ErrMalformedChannel, ch)
	}
	return name, content, nil
}

// NameKey returns the presence key of name.
func NameKey(name string) string {
	return NamesPrefix + name
}

// ConfigurationKey returns the key of a configuration item of a unit.
func ConfigurationKey(unit, item string) string {
	return ConfigurationsPrefix + unit + "/" + item
}
