package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/go-go-golems/cricket/pkg/conversation"
)

func writeConversationTable(out io.Writer, convs []conversation.Conversation, total int) error {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tMODEL\tUPDATED")
	for _, c := range convs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
			c.ID, c.Title, c.MessageCount, modelLabel(c), c.UpdatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if total > len(convs) {
		fmt.Fprintf(out, "%d of %d conversations shown.\n", len(convs), total)
	}
	return nil
}

func modelLabel(c conversation.Conversation) string {
	switch {
	case c.Provider != "" && c.Model != "":
		return c.Provider + "/" + c.Model
	case c.Model != "":
		return c.Model
	default:
		return "default"
	}
}

func writeConversationHeader(out io.Writer, c conversation.Conversation) {
	fmt.Fprintf(out, "Conversation %d: %s\n", c.ID, c.Title)
	fmt.Fprintf(out, "Messages: %d, updated %s\n\n", c.MessageCount, c.UpdatedAt.Format(time.RFC3339))
}

func writeTranscript(out io.Writer, msgs []conversation.Message) {
	for _, m := range msgs {
		switch m.Role {
		case conversation.RoleUser:
			fmt.Fprintf(out, "> %s\n", m.Content)
		case conversation.RoleAssistant:
			fmt.Fprintln(out, m.Content)
		case conversation.RoleToolCall:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(out, "[tool call %s %s]\n", tc.Name, string(tc.Arguments))
			}
		case conversation.RoleToolResult:
			fmt.Fprintf(out, "[tool result] %s\n", m.Content)
		default:
			fmt.Fprintf(out, "[%s] %s\n", m.Role, m.Content)
		}
	}
}
