package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/alxayo/netcore/internal/conn"
	"github.com/alxayo/netcore/internal/echo"
	"github.com/alxayo/netcore/internal/logger"
	"github.com/alxayo/netcore/internal/message"
	srv "github.com/alxayo/netcore/internal/server"
	"github.com/alxayo/netcore/internal/wire"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		pterm.Warning.Println("invalid log level, using default")
	}
	log := logger.Logger().With("component", "cli")

	pterm.Info.Printfln("netcore echo server %s", version)

	localCfg := wire.DefaultConfig()
	if cfg.maxConnections > 0 {
		localCfg.MaxConnections = uint32(cfg.maxConnections)
	}
	if cfg.maxMessageSize > 0 {
		localCfg.MaxMessageSize = cfg.maxMessageSize
	}

	var server *srv.Server
	server = srv.New(srv.Config{ListenAddr: cfg.listenAddr, LocalConfig: localCfg}, srv.Handlers{
		OnClientConnect: func(c *conn.Connection) bool {
			pterm.Info.Printfln("accepting connection from %s", c.RemoteAddr())
			return true
		},
		OnClientReady: func(c *conn.Connection) {
			pterm.Success.Printfln("client %d ready (%s)", c.ID(), c.RemoteAddr())
		},
		OnClientDisconnect: func(c *conn.Connection) {
			pterm.Warning.Printfln("client %d disconnected", c.ID())
		},
		OnMessage: func(c *conn.Connection, m *message.Message) {
			switch m.Header.ID {
			case echo.ServerPing:
				if err := c.Send(m); err != nil {
					log.Warn("ping bounce failed", "conn_id", c.ID(), "error", err)
				}
			case echo.MessageAll:
				reply := message.New(echo.ServerMessage)
				if err := message.Push(reply, c.ID()); err != nil {
					log.Error("encode broadcast", "error", err)
					return
				}
				server.MessageAllClients(reply, c.ID())
			default:
				log.Warn("unknown message id", "conn_id", c.ID(), "msg_id", m.Header.ID)
			}
		},
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("listening on %s", server.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for ctx.Err() == nil {
			server.Update(64, true)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
