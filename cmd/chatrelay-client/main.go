// Package main provides a terminal client for chatrelay: it logs in, keeps the live
// subscription open and sends lines typed on stdin to a peer.
//
// Commands:
//
//	/login <name> <password>   authenticate and start receiving
//	/peer <id>                 choose who plain lines are sent to
//	/history                   print the conversation with the peer
//	/me                        show the logged-in identity
//	/logout                    revoke the token and stop receiving
//	/quit                      exit
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/coregx/chatrelay"
	"github.com/coregx/chatrelay/client"
	"github.com/coregx/chatrelay/model"
)

func main() {
	home, _ := os.UserHomeDir()
	server := flag.String("server", "http://localhost:8080", "chatrelay server base URL")
	appKey := flag.String("app-key", "chatrelay", "relay app key")
	credPath := flag.String("credentials", filepath.Join(home, ".chatrelay", "credentials.json"), "credential file")
	peer := flag.Int64("peer", 0, "identity id to chat with")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := chatrelay.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(*server, *appKey, *credPath, *peer, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
	defer app.stopConnector()

	if err := app.repl(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "chatrelay: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	api    *client.API
	wsURL  string
	peer   atomic.Int64
	logger chatrelay.Logger
	view   *client.MessageView

	mu        sync.Mutex
	connector *client.Connector
	done      chan struct{}
}

func newApp(server, appKey, credPath string, peer int64, logger chatrelay.Logger) (*app, error) {
	holder, err := client.NewHolder(client.NewFileStore(credPath))
	if err != nil {
		return nil, err
	}
	api, err := client.NewAPI(server, holder)
	if err != nil {
		return nil, err
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(server, "/"), "http") + "/app/" + appKey
	a := &app{
		api:    api,
		wsURL:  wsURL,
		logger: logger,
		view:   client.NewMessageView(),
	}
	a.peer.Store(peer)
	return a, nil
}

func (a *app) repl(ctx context.Context, in *os.File) error {
	if creds, ok := a.api.Credentials().Get(); ok {
		fmt.Printf("Restored session for %s (#%d)\n", creds.Identity.Name, creds.Identity.ID)
		a.startConnector(ctx, creds.Identity)
	} else {
		fmt.Println("Not logged in. Use /login <name> <password>.")
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := a.handle(ctx, strings.TrimSpace(line))
			if err != nil {
				fmt.Println(describe(err))
			}
			if quit {
				return nil
			}
		}
	}
}

func (a *app) handle(ctx context.Context, line string) (quit bool, err error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, a.send(ctx, line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true, nil

	case "/login":
		if len(fields) != 3 {
			return false, errors.New("usage: /login <name> <password>")
		}
		creds, err := a.api.Login(ctx, fields[1], fields[2])
		if err != nil {
			return false, err
		}
		fmt.Printf("Logged in as %s (#%d)\n", creds.Identity.Name, creds.Identity.ID)
		a.startConnector(ctx, creds.Identity)

	case "/logout":
		a.stopConnector()
		if err := a.api.Logout(ctx); err != nil {
			return false, err
		}
		fmt.Println("Logged out.")

	case "/me":
		id, err := a.api.Me(ctx)
		if err != nil {
			return false, err
		}
		fmt.Printf("%s (#%d)\n", id.Name, id.ID)

	case "/peer":
		if len(fields) != 2 {
			return false, errors.New("usage: /peer <id>")
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return false, fmt.Errorf("invalid peer %q", fields[1])
		}
		a.peer.Store(id)
		fmt.Printf("Chatting with #%d\n", id)

	case "/history":
		return false, a.history(ctx)

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func (a *app) send(ctx context.Context, body string) error {
	peer := a.peer.Load()
	if peer == 0 {
		return errors.New("no peer selected: use /peer <id>")
	}
	m, err := a.api.Send(ctx, peer, body)
	if err != nil {
		return err
	}
	a.view.Add(m)
	return nil
}

func (a *app) history(ctx context.Context) error {
	return a.fetchHistory(ctx, false)
}

// catchUp prints the messages with the current peer that the view has not seen yet,
// such as those sent while the connector was reconnecting.
func (a *app) catchUp(ctx context.Context) {
	if a.peer.Load() == 0 {
		return
	}
	if err := a.fetchHistory(ctx, true); err != nil {
		fmt.Println(describe(err))
	}
}

// fetchHistory merges the whole conversation with the peer into the view. With onlyNew
// it prints only messages the view did not already hold.
func (a *app) fetchHistory(ctx context.Context, onlyNew bool) error {
	peer := a.peer.Load()
	if peer == 0 {
		return errors.New("no peer selected: use /peer <id>")
	}
	var cursor int64
	for {
		page, err := a.api.History(ctx, peer, 0, cursor)
		if err != nil {
			return err
		}
		for _, m := range page.Messages {
			if a.view.Add(m) || !onlyNew {
				printMessage(m)
			}
		}
		if page.NextCursor == 0 {
			return nil
		}
		cursor = page.NextCursor
	}
}

// startConnector replaces any running connector with one for id.
func (a *app) startConnector(ctx context.Context, id model.Identity) {
	a.stopConnector()

	var previous client.State
	c, err := client.NewConnector(
		client.WithDialer(&client.WebSocketDialer{URL: a.wsURL}),
		client.WithGrants(a.api),
		client.WithIdentity(id),
		client.WithView(a.view),
		client.WithConnectorLogger(a.logger),
		client.OnMessage(printMessage),
		client.OnStateChange(func(s client.State) {
			if s == client.Subscribed || s == client.Reconnecting {
				fmt.Printf("[%s]\n", s)
			}
			// Fresh subscription, not a return from Receiving.
			if s == client.Subscribed && previous == client.Subscribing {
				go a.catchUp(ctx)
			}
			previous = s
		}),
	)
	if err != nil {
		fmt.Println(describe(err))
		return
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.connector = c
	a.done = done
	a.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.Run(ctx); err != nil {
			fmt.Println(describe(err))
		}
	}()
}

// stopConnector closes the running connector and waits until it has unsubscribed.
func (a *app) stopConnector() {
	a.mu.Lock()
	c, done := a.connector, a.done
	a.connector, a.done = nil, nil
	a.mu.Unlock()

	if c == nil {
		return
	}
	c.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func printMessage(m model.Message) {
	fmt.Printf("%s #%d → #%d: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.ReceiverID, m.Body)
}

func describe(err error) string {
	switch {
	case chatrelay.IsUnauthorized(err):
		return "Not authorized: please /login again."
	case chatrelay.IsValidation(err):
		return "Invalid: " + err.Error()
	case chatrelay.IsNetwork(err):
		return "Connection problem, retrying may help: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
