// Command mcpserver wires the protocol registry, the version-1 adapter,
// the monitor, and the WebSocket transport into a running server.
package main

import (
	"net/http"

	v1adapter "github.com/SubbaMooney/vibecoding-demo/adapter/v1"
	"github.com/SubbaMooney/vibecoding-demo/config"
	"github.com/SubbaMooney/vibecoding-demo/logx"
	"github.com/SubbaMooney/vibecoding-demo/monitor"
	"github.com/SubbaMooney/vibecoding-demo/protocol"
	"github.com/SubbaMooney/vibecoding-demo/rag"
	"github.com/SubbaMooney/vibecoding-demo/server"
)

func main() {
	cfg := config.FromEnv()
	log := logx.NewAtLevel(cfg.LogLevel)

	registry := protocol.NewRegistry()

	store := rag.NewInMemory()
	adapter10 := v1adapter.New(store, store, store, log)
	if err := registry.Register(adapter10); err != nil {
		log.Error("register adapter 1.0: %v", err)
		return
	}

	// A 1.0 client is naturally compatible with a 1.0 server; a 0.9
	// client falls back to 1.0 since it predates the current tool set.
	registry.SetCompatibility("1.0", "1.0", true)
	registry.SetCompatibility("1.0", "0.9", true)

	negotiator := protocol.NewNegotiator(registry)
	mon := monitor.New(log)

	srv := server.New(registry, negotiator, mon,
		server.WithLogger(log),
		server.WithMaxConnections(cfg.MaxConnections),
		server.WithMaxMessageSize(cfg.MaxMessageSize),
		server.WithInfo(server.Info{
			Name:        "protocolsrv",
			Version:     "1.0",
			Description: "versioned tool-invocation protocol server",
		}),
	)

	mux := http.NewServeMux()
	srv.ServeWebsocket(mux, cfg.WebsocketPath)

	log.Info("listening on %s%s", cfg.ListenAddr, cfg.WebsocketPath)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		log.Error("server exited: %v", err)
	}
}
