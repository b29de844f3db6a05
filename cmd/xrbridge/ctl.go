package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xrdesk/xrbridge/internal/api"
	"github.com/xrdesk/xrbridge/internal/config"
	"github.com/xrdesk/xrbridge/internal/controlrpc"
	"github.com/xrdesk/xrbridge/internal/db"
)

const ctlUsage = `usage: xrbridge ctl [--addr HOST:PORT] [--token JWT] <action>

Actions:
  state                 Print the engine status
  displays              List virtual displays
  add WIDTHxHEIGHT      Create a virtual display
  remove ID             Remove a virtual display
  recenter              Recenter the screen
  toggle on|off         Enable or disable the desktop effect in the driver
  history [LIMIT]       Print recent activation sessions and recenters
  captures              List telemetry captures on the daemon host
`

func runCtl(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("ctl", stderr)
	addr := fs.String("addr", config.Empty().GetListenAddr(), "Daemon HTTP address")
	token := fs.String("token", "", "Bearer token for mutating actions")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	fs.Usage = func() { fmt.Fprint(stderr, ctlUsage) }
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 1 {
		fmt.Fprint(stderr, ctlUsage)
		return 2
	}

	client := api.NewClient(*addr, &http.Client{Timeout: *timeout})
	client.Token = *token
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := ctlAction(ctx, client, fs.Args())
	if errors.Is(err, errCtlUsage) {
		fmt.Fprintf(stderr, "%v\n\n%s", err, ctlUsage)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if out == nil {
		fmt.Fprintln(stdout, "ok")
		return 0
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var errCtlUsage = errors.New("invalid ctl usage")

// ctlAction runs one action and returns the value to print, or nil for
// actions that only report success.
func ctlAction(ctx context.Context, c *api.Client, args []string) (any, error) {
	action, rest := args[0], args[1:]
	switch action {
	case "state":
		return c.State(ctx)
	case "displays":
		return c.Displays(ctx)
	case "add":
		if len(rest) != 1 {
			return nil, fmt.Errorf("%w: add needs WIDTHxHEIGHT", errCtlUsage)
		}
		w, h, err := parseSize(rest[0])
		if err != nil {
			return nil, err
		}
		return c.AddDisplay(ctx, w, h)
	case "remove":
		if len(rest) != 1 {
			return nil, fmt.Errorf("%w: remove needs a display id", errCtlUsage)
		}
		return c.RemoveDisplay(ctx, rest[0])
	case "recenter":
		return nil, c.Recenter(ctx)
	case "toggle":
		if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
			return nil, fmt.Errorf("%w: toggle needs on or off", errCtlUsage)
		}
		return nil, c.Toggle(ctx, rest[0] == "on")
	case "captures":
		return c.Captures(ctx)
	case "history":
		limit := db.DefaultQueryLimit
		if len(rest) == 1 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("%w: invalid limit %q", errCtlUsage, rest[0])
			}
			limit = n
		}
		return c.History(ctx, limit)
	}
	return nil, fmt.Errorf("%w: unknown action %q", errCtlUsage, action)
}

// parseSize parses "1920x1080".
func parseSize(s string) (width, height uint32, err error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: size %q is not WIDTHxHEIGHT", errCtlUsage, s)
	}
	w, err := strconv.ParseUint(ws, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: width %q", errCtlUsage, ws)
	}
	h, err := strconv.ParseUint(hs, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: height %q", errCtlUsage, hs)
	}
	return uint32(w), uint32(h), nil
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	socket := fs.String("socket", config.Empty().GetGRPCSocket(), "Daemon plugin socket")
	count := fs.Int("count", 0, "Stop after this many events (0 streams until interrupted)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	conn, err := controlrpc.Dial(*socket)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer conn.Close()

	ctx, stop := signalContext()
	defer stop()
	if err := streamEvents(ctx, controlrpc.NewClient(conn), stdout, *count); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// streamEvents writes one JSON event per line until ctx is done, the
// stream ends or count events were written.
func streamEvents(ctx context.Context, c *controlrpc.Client, w io.Writer, count int) error {
	stream, err := c.StreamEvents(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for n := 0; count <= 0 || n < count; n++ {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
