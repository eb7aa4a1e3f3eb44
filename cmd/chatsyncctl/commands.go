package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
)

func cmdStatus(ctx context.Context, c *api.Client, info lock.Info, opts options) {
	resp, err := c.Status(ctx)
	check(err)
	output(opts, resp, func() {
		uptime := durafmt.ParseShort(time.Duration(resp.UptimeMs) * time.Millisecond)
		fmt.Printf("Session:     %s (pid %d)\n", resp.Session, info.PID)
		fmt.Printf("Status:      %s\n", resp.Status)
		fmt.Printf("Uptime:      %s\n", uptime)
		if resp.Authenticated {
			fmt.Printf("Account:     %s (user %s)\n", resp.Phone, resp.UserID)
		} else {
			fmt.Println("Account:     not logged in")
		}
		fmt.Printf("Connected:   %v\n", resp.Connected)
		fmt.Printf("Stored:      %d contacts, %d rooms, %d messages, %d communities\n",
			resp.Contacts, resp.ChatRooms, resp.Messages, resp.Communities)
		if len(resp.OpenRooms) > 0 {
			fmt.Printf("Open rooms:  %s\n", strings.Join(resp.OpenRooms, ", "))
		}
	})
}

func cmdLogin(ctx context.Context, c *api.Client, token string, opts options) {
	resp, err := c.Login(ctx, token)
	check(err)
	output(opts, resp, func() {
		fmt.Printf("Logged in as %s (user %s)\n", resp.Phone, resp.UserID)
		if resp.ExpiresAt != "" {
			fmt.Printf("Token expires %s\n", resp.ExpiresAt)
		}
		if !resp.Connected {
			fmt.Printf("Not connected: %s\n", resp.Error)
		}
	})
}

func cmdContacts(ctx context.Context, c *api.Client, sub string, opts options) {
	switch sub {
	case "sync":
		resp, err := c.SyncContacts(ctx)
		check(err)
		output(opts, resp, func() {
			fmt.Printf("Synced %d contacts (%d linked), %d rooms, %d communities.\n",
				resp.Contacts, resp.Linked, resp.ChatRooms, resp.Communities)
		})
	case "list":
		resp, err := c.ListContacts(ctx)
		check(err)
		output(opts, resp, func() {
			if len(resp.Contacts) == 0 {
				fmt.Println("No contacts. Run: chatsyncctl contacts sync")
				return
			}
			for _, ct := range resp.Contacts {
				room := ct.RoomID
				if room == "" {
					room = "-"
				}
				fmt.Printf("%-16s %-24s %s\n", ct.Phone, ct.Name, room)
			}
		})
	default:
		usageError("contacts <sync|list>")
	}
}

func cmdCommunities(ctx context.Context, c *api.Client, keyword string, opts options) {
	resp, err := c.SearchCommunities(ctx, keyword)
	check(err)
	output(opts, resp, func() {
		if len(resp.Communities) == 0 {
			fmt.Println("No communities found.")
			return
		}
		for _, cm := range resp.Communities {
			fmt.Printf("%-24s %-8s %-8s %s\n", cm.Name, cm.Type, cm.Visibility, cm.Description)
		}
	})
}

func cmdOpen(ctx context.Context, c *api.Client, args []string, opts options) {
	var (
		resp *api.RoomView
		err  error
	)
	if opts.phone != "" {
		resp, err = c.OpenContact(ctx, opts.phone)
	} else {
		resp, err = c.OpenRoom(ctx, arg(args, 1, "open <roomId> | open --phone <phone>"))
	}
	check(err)
	output(opts, resp, func() { printRoom(resp) })
}

func cmdSend(ctx context.Context, c *api.Client, args []string, opts options) {
	const usage = "send <roomId> <text> [--type <type>] [--media <ref>]"
	roomID := arg(args, 1, usage)
	if len(args) < 3 {
		usageError(usage)
	}
	resp, err := c.Send(ctx, api.SendRequest{
		RoomID:   roomID,
		Content:  strings.Join(args[2:], " "),
		Type:     opts.msgType,
		MediaRef: opts.mediaRef,
	})
	check(err)
	output(opts, resp, func() { fmt.Printf("Sent %s\n", resp.ClientMsgID) })
}

func cmdWatch(ctx context.Context, c *api.Client, roomID string, opts options) {
	err := c.Watch(ctx, api.WatchRequest{RoomID: roomID}, func(e api.Event) error {
		if opts.json {
			outputJSON(e)
			return nil
		}
		fmt.Println(formatEvent(e))
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	check(err)
}

func printRoom(v *api.RoomView) {
	fmt.Printf("Room %s [%s] since %s, %d message(s)\n", v.RoomID, v.State, v.Oldest, len(v.Messages))
	for _, m := range v.Messages {
		content := m.Content
		if m.Type != "text" {
			content = fmt.Sprintf("[%s] %s", m.Type, content)
		}
		if m.Deleted {
			content = "(deleted)"
		}
		fmt.Printf("  %s  %-6s %s\n", m.CreatedAt, m.SenderID, content)
	}
}

func formatEvent(e api.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.At, e.Kind)
	if e.RoomID != "" {
		fmt.Fprintf(&b, " room=%s", e.RoomID)
	}
	if e.From != "" || e.To != "" {
		fmt.Fprintf(&b, " %s->%s", e.From, e.To)
	}
	if e.Size > 0 || e.Added > 0 {
		fmt.Fprintf(&b, " size=%d added=%d", e.Size, e.Added)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}
