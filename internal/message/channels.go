package message

import (
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Replies used when answering a channel lookup.
const (
	ReplyChannelFound    = "Channel found."
	ReplyNoSuchChannel   = "No such channel found."
	channelListSeparator = "\r"
)

// ResolveChannels answers the list and select commands against a channel set.
//
// With empty args the result lists every channel name, sorted and separated by
// carriage returns, with properties mapping name to ID. With args the first
// name (in sorted order) starting with args is selected; Handled reports
// whether one was found.
//
// Postcondition: Always returns a non-nil result echoing cmd.
func ResolveChannels(cmd Command, channels []Channel) *CommandResult {
	sorted := append([]Channel(nil), channels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})

	if cmd.Args == "" {
		names := lo.Map(sorted, func(c Channel, _ int) string { return c.Name })
		return &CommandResult{
			Command: cmd,
			Handled: true,
			Message: strings.Join(names, channelListSeparator),
			Properties: lo.SliceToMap(sorted, func(c Channel) (string, string) {
				return c.Name, c.ID
			}),
		}
	}

	match, found := lo.Find(sorted, func(c Channel) bool {
		return strings.HasPrefix(c.Name, cmd.Args)
	})
	if !found {
		return &CommandResult{
			Command:    cmd,
			Handled:    false,
			Message:    ReplyNoSuchChannel,
			Properties: map[string]string{},
		}
	}
	return &CommandResult{
		Command: cmd,
		Handled: true,
		Message: ReplyChannelFound,
		Properties: map[string]string{
			PropChannelID:   match.ID,
			PropChannelName: match.Name,
		},
	}
}
