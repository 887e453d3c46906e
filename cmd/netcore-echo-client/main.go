package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/alxayo/netcore/internal/client"
	"github.com/alxayo/netcore/internal/echo"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	host := flag.String("host", "127.0.0.1", "server host")
	port := flag.Int("port", 9000, "server port")
	mode := flag.String("mode", "ping", "ping|listen")
	logLevel := flag.String("log-level", "info", "log level: debug|info|warn|error")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(*logLevel); err != nil {
		pterm.Warning.Println("invalid log level, using default")
	}
	log := logger.Logger().With("component", "cli")

	pterm.Info.Printfln("netcore echo client %s", version)

	c := client.New(client.Config{})
	defer c.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ok, err := c.Connect(ctx, *host, *port)
	if err != nil || !ok {
		pterm.Error.Printfln("connect to %s:%d failed: %v", *host, *port, err)
		os.Exit(1)
	}
	defer c.Disconnect()
	pterm.Success.Printfln("connected to %s:%d", *host, *port)

	switch *mode {
	case "ping":
		if err := runPing(ctx, c); err != nil {
			log.Error("ping failed", "error", err)
			os.Exit(1)
		}
	case "listen":
		runListen(ctx, c, log)
	default:
		pterm.Error.Printfln("unknown mode %q", *mode)
		os.Exit(2)
	}
}

// runPing implements seed scenario 1: send ServerPing carrying the current
// time in nanoseconds, then wait for the bounced reply and verify the
// timestamp round-trips unchanged.
func runPing(ctx context.Context, c *client.Client) error {
	sent := message.New(echo.ServerPing)
	now := uint64(time.Now().UnixNano())
	if err := message.Push(sent, now); err != nil {
		return fmt.Errorf("encode ping: %w", err)
	}
	if err := c.Send(sent); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	owned, ok := c.Incoming().Wait(waitCtx)
	if !ok {
		return fmt.Errorf("timed out waiting for ping reply")
	}
	if owned.Msg.Header.ID != echo.ServerPing {
		return fmt.Errorf("unexpected reply id %d", owned.Msg.Header.ID)
	}
	var echoed uint64
	if err := message.Pop(&owned.Msg, &echoed); err != nil {
		return fmt.Errorf("decode ping reply: %w", err)
	}
	if echoed != now {
		return fmt.Errorf("round-tripped timestamp mismatch: sent %d, got %d", now, echoed)
	}
	pterm.Success.Printfln("ping round-trip ok (%d ns)", uint64(time.Now().UnixNano())-now)
	return nil
}

// runListen implements the receiving side of seed scenario 2 (broadcast):
// it prints every ServerMessage it receives until interrupted.
func runListen(ctx context.Context, c *client.Client, log interface {
	Info(msg string, args ...any)
}) {
	for {
		owned, ok := c.Incoming().Wait(ctx)
		if !ok {
			pterm.Warning.Println("disconnected")
			return
		}
		switch owned.Msg.Header.ID {
		case echo.ServerMessage:
			if len(owned.Msg.Body) >= 4 {
				originID := binary.NativeEndian.Uint32(owned.Msg.Body[len(owned.Msg.Body)-4:])
				pterm.Info.Printfln("broadcast from client %d", originID)
			}
		default:
			log.Info("message received", "msg_id", owned.Msg.Header.ID)
		}
	}
}
