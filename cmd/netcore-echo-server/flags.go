package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// server.Config, so main.go can validate and map in one place.
type cliConfig struct {
	listenAddr     string
	logLevel       string
	maxConnections uint
	maxMessageSize uint64
	showVersion    bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("netcore-echo-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.listenAddr, "listen", ":9000", "TCP listen address (e.g. :9000 or 0.0.0.0:9000)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.maxConnections, "max-connections", 0, "advertised max_connections in the handshake Config (0 keeps the wire default)")
	fs.Uint64Var(&cfg.maxMessageSize, "max-message-size", 0, "advertised max_message_size in bytes (0 keeps the 10 MiB wire default)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
