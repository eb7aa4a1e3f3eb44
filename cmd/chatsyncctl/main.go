package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/pflag"
)

type options struct {
	json     bool
	phone    string
	msgType  string
	mediaRef string
}

func main() {
	var opts options
	sessionFlag := pflag.String("session", "", "session name (overrides config default)")
	pflag.BoolVar(&opts.json, "json", false, "output in JSON format")
	pflag.StringVar(&opts.phone, "phone", "", "open: the contact's phone instead of a room id")
	pflag.StringVar(&opts.msgType, "type", "text", "send: message type (text, image, video, audio, document)")
	pflag.StringVar(&opts.mediaRef, "media", "", "send: media reference for non-text messages")
	pflag.Usage = printUsage
	pflag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := pflag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	info, err := lock.Read(session.Dir(sessionName))
	if errors.Is(err, lock.ErrNotHeld) {
		fmt.Fprintf(os.Stderr, "error: daemon for session %q is not running (start chatsyncd --session %s)\n", sessionName, sessionName)
		os.Exit(1)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, c, arg(args, 1, ""), opts)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, info, opts)
	case "login":
		cmdLogin(ctx, c, arg(args, 1, "login <token>"), opts)
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out; local data cleared.")
	case "connect":
		resp, err := c.Connect(ctx)
		check(err)
		output(opts, resp, func() { fmt.Printf("Connected: %v (%s)\n", resp.Connected, resp.Status) })
	case "contacts":
		cmdContacts(ctx, c, arg(args, 1, "contacts <sync|list>"), opts)
	case "communities":
		if arg(args, 1, "communities search <keyword>") != "search" {
			usageError("communities search <keyword>")
		}
		cmdCommunities(ctx, c, arg(args, 2, "communities search <keyword>"), opts)
	case "open":
		cmdOpen(ctx, c, args, opts)
	case "view":
		resp, err := c.View(ctx, arg(args, 1, "view <roomId>"))
		check(err)
		output(opts, resp, func() { printRoom(resp) })
	case "older":
		resp, err := c.LoadOlder(ctx, arg(args, 1, "older <roomId>"))
		check(err)
		output(opts, resp, func() {
			if !resp.Requested {
				fmt.Printf("Already loading (%s).\n", resp.State)
				return
			}
			fmt.Printf("Requested %s.\n", resp.Oldest)
		})
	case "send":
		cmdSend(ctx, c, args, opts)
	case "close":
		check(c.CloseRoom(ctx, arg(args, 1, "close <roomId>")))
		fmt.Println("Closed.")
	case "retry":
		resp, err := c.RetryOutbox(ctx)
		check(err)
		output(opts, resp, func() { fmt.Printf("Retried %d message(s).\n", resp.Retried) })
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show session status")
	fmt.Fprintln(os.Stderr, "  login <token>               Save a bearer token and connect")
	fmt.Fprintln(os.Stderr, "  logout                      Drop the token and clear local data")
	fmt.Fprintln(os.Stderr, "  connect                     Connect the live channel")
	fmt.Fprintln(os.Stderr, "  contacts sync               Mirror contacts, rooms and communities")
	fmt.Fprintln(os.Stderr, "  contacts list               List stored contacts")
	fmt.Fprintln(os.Stderr, "  communities search <kw>     Search stored communities")
	fmt.Fprintln(os.Stderr, "  open <roomId>               Open a room")
	fmt.Fprintln(os.Stderr, "  open --phone <phone>        Open the private room with a contact")
	fmt.Fprintln(os.Stderr, "  view <roomId>               Print an open room's messages")
	fmt.Fprintln(os.Stderr, "  older <roomId>              Load the previous day")
	fmt.Fprintln(os.Stderr, "  send <roomId> <text>        Send a message (--type, --media)")
	fmt.Fprintln(os.Stderr, "  close <roomId>              Close a room")
	fmt.Fprintln(os.Stderr, "  retry                       Resend failed messages now")
	fmt.Fprintln(os.Stderr, "  watch [roomId]              Stream events until interrupted")
	fmt.Fprintln(os.Stderr, "")
	pflag.PrintDefaults()
}

func arg(args []string, i int, usage string) string {
	if i < len(args) {
		return args[i]
	}
	if usage != "" {
		usageError(usage)
	}
	return ""
}

func usageError(usage string) {
	fmt.Fprintf(os.Stderr, "usage: chatsyncctl %s\n", usage)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func output(opts options, v any, text func()) {
	if opts.json {
		outputJSON(v)
		return
	}
	text()
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
