package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

var version = "0.1.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("loqa-dictate-ctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	server := global.String("server", "nats://localhost:4222", "NATS server URL")
	timeout := global.Duration("timeout", 5*time.Second, "Command timeout")
	if err := global.Parse(args); err != nil {
		return exitUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "expected one of: start, stop, status, save, delete, version")
		return exitUsage
	}

	cmd := protocol.Command{Action: rest[0]}
	switch rest[0] {
	case "version":
		fmt.Fprintln(stdout, version)
		return exitOK
	case protocol.ActionStart, protocol.ActionStop, protocol.ActionStatus:
	case protocol.ActionSave:
		fs := flag.NewFlagSet("save", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&cmd.Path, "file", "", "Export path (defaults to the daemon's session.export_path)")
		if err := fs.Parse(rest[1:]); err != nil {
			return exitUsage
		}
	case protocol.ActionDelete:
		fs := flag.NewFlagSet("delete", flag.ContinueOnError)
		fs.SetOutput(stderr)
		fs.StringVar(&cmd.Text, "text", "", "Deleted text")
		if err := fs.Parse(rest[1:]); err != nil {
			return exitUsage
		}
		if cmd.Text == "" {
			fmt.Fprintln(stderr, "delete requires -text")
			return exitUsage
		}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		return exitUsage
	}

	reply, err := send(*server, *timeout, cmd)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
	if !reply.OK {
		fmt.Fprintln(stderr, reply.Error)
		return exitFailure
	}
	printReply(stdout, cmd.Action, reply)
	return exitOK
}

func send(server string, timeout time.Duration, cmd protocol.Command) (protocol.CommandReply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg := config.BusConfig{Servers: []string{server}, ConnectTimeout: int(timeout / time.Millisecond)}
	client, err := bus.Connect(ctx, cfg, "loqa-dictate-ctl", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return protocol.CommandReply{}, err
	}
	defer client.Close()

	var reply protocol.CommandReply
	if err := client.RequestJSON(ctx, protocol.SubjectCommand, cmd, &reply); err != nil {
		return protocol.CommandReply{}, err
	}
	return reply, nil
}

func printReply(w io.Writer, action string, reply protocol.CommandReply) {
	switch action {
	case protocol.ActionStatus:
		fmt.Fprintf(w, "state: %s\n", reply.State)
		fmt.Fprintf(w, "text: %q\n", reply.Text)
		phrases := make([]string, 0, len(reply.Suppressed))
		for p := range reply.Suppressed {
			phrases = append(phrases, p)
		}
		sort.Strings(phrases)
		for _, p := range phrases {
			fmt.Fprintf(w, "suppressed: %q (%d)\n", p, reply.Suppressed[p])
		}
	case protocol.ActionDelete:
		fmt.Fprintln(w, reply.Text)
	case protocol.ActionSave:
		fmt.Fprintln(w, "saved")
	default:
		fmt.Fprintln(w, reply.State)
	}
}
