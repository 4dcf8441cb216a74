package ui

import (
	"bufio"
	"io"
	"strings"
)

// Commands are the user actions.
type Commands interface {
	Start()
	Skip()
	End()
	AddFriend()
	Close()
}

const help = "commands: start, skip, end, friend, quit\n"

// ReadCommands reads one command per line until quit or the end of input.
// It returns true on quit.
func (c *Console) ReadCommands(r io.Reader, cmd Commands) (quit bool, err error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
		case "start", "s":
			cmd.Start()
		case "skip", "n", "next":
			cmd.Skip()
		case "end", "e":
			cmd.End()
		case "friend", "f":
			cmd.AddFriend()
		case "quit", "q", "exit":
			cmd.Close()
			return true, nil
		default:
			c.print(help)
		}
	}
	return false, scanner.Err()
}
