// Package ui is a text interface for the session controller.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/randchat/matchclient/pkg/media"
	"github.com/randchat/matchclient/pkg/session"
)

// Console prints views and the local camera state.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console { return &Console{out: out} }

func (c *Console) Render(v session.View) {
	var actions []string
	if v.Start {
		actions = append(actions, "start")
	}
	if v.Skip {
		actions = append(actions, "skip")
	}
	if v.End {
		actions = append(actions, "end")
	}
	if v.AddFriend {
		actions = append(actions, "friend")
	}
	actions = append(actions, "quit")
	c.print("%v  [%v]\n", v.Status, strings.Join(actions, " | "))
}

func (c *Console) ShowLocal(h *media.Handle) {
	c.print("Camera is on (%v)\n", strings.Join(h.Describe(), ", "))
}

func (c *Console) HideLocal() { c.print("Camera is off\n") }

func (c *Console) print(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
