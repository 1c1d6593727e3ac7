package message

import "strings"

// CommandToken marks a line as a command. The left arrow is a dedicated key
// on PETSCII keyboards and is never produced while typing ordinary text.
const CommandToken = "←"

// Property keys set on a CommandResult that selects a channel.
const (
	PropChannelID   = "channelId"
	PropChannelName = "channelName"
)

// Command is a parsed terminal command.
type Command struct {
	// Name is the lower-cased word following the token.
	Name string
	// Args is the raw remainder after the first space, or empty.
	Args string
}

// CommandResult is the answer of the observer that took ownership of a command.
// A result with Handled false may still carry a Message for the requester.
type CommandResult struct {
	Command    Command
	Handled    bool
	Message    string
	Properties map[string]string
}

// Channel returns the channel selected by the result, if any.
//
// Postcondition: Returns (channel, true) when both channel properties are present.
func (r CommandResult) Channel() (Channel, bool) {
	id := r.Properties[PropChannelID]
	if id == "" {
		return Channel{}, false
	}
	return Channel{ID: id, Name: r.Properties[PropChannelName]}, true
}

// IsCommand reports whether line starts with the command token.
func IsCommand(line string) bool {
	return strings.HasPrefix(line, CommandToken)
}

// ParseCommand extracts a Command from a line beginning with CommandToken.
//
// Postcondition: Returns (command, true) for command lines; (Command{}, false) otherwise.
func ParseCommand(line string) (Command, bool) {
	if !IsCommand(line) {
		return Command{}, false
	}
	rest := strings.TrimPrefix(line, CommandToken)
	name, args, _ := strings.Cut(rest, " ")
	return Command{
		Name: strings.ToLower(name),
		Args: args,
	}, true
}
