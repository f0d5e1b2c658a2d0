package server

import (
	"net/http"

	"github.com/gobwas/ws"

	wstransport "github.com/SubbaMooney/vibecoding-demo/transport/websocket"
)

// ServeWebsocket upgrades every request on path to a WebSocket and hands
// it to Accept in its own goroutine, one goroutine per accepted
// connection.
func (s *Server) ServeWebsocket(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			s.log.Error("websocket upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}
		transport := wstransport.New(conn, s.log)
		s.log.Info("websocket connection established with %s", conn.RemoteAddr())
		go s.Accept(transport)
	})
}
