// Package dispatch hands incident processing jobs to worker tasks over an
// embedded NATS broker with at-least-once delivery.
package dispatch

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// EmbeddedNATS wraps an in-process NATS server with a client connection
type EmbeddedNATS struct {
	server *server.Server
	conn   *nats.Conn
	port   int
}

// ServerConfig holds configuration for the embedded broker
type ServerConfig struct {
	// Port to listen on. Zero or negative picks a random free port, which
	// is what tests use.
	Port int

	// MaxPayload is the max message size in bytes. Jobs are tiny, so the
	// 1MB default is plenty.
	MaxPayload int32
}

// NewEmbedded creates and starts an embedded NATS server with an internal
// client connection
func NewEmbedded(cfg ServerConfig) (*EmbeddedNATS, error) {
	port := cfg.Port
	if port <= 0 {
		port = server.RANDOM_PORT
	}

	opts := &server.Options{
		Host:          "127.0.0.1",
		Port:          port,
		NoLog:         true,
		NoSigs:        true,
		MaxPayload:    cfg.MaxPayload,
		WriteDeadline: 10 * time.Second,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("NATS server not ready after 5 seconds")
	}

	nc, err := nats.Connect(ns.ClientURL(),
		nats.Name("roadwatch-internal"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	actual := port
	if addr, ok := ns.Addr().(*net.TCPAddr); ok {
		actual = addr.Port
	}
	log.Printf("[Dispatch] Embedded NATS server started on port %d", actual)

	return &EmbeddedNATS{
		server: ns,
		conn:   nc,
		port:   actual,
	}, nil
}

// Conn returns the internal client connection
func (e *EmbeddedNATS) Conn() *nats.Conn {
	return e.conn
}

// Address returns the broker address external clients connect to
func (e *EmbeddedNATS) Address() string {
	return e.server.ClientURL()
}

// Port returns the broker port
func (e *EmbeddedNATS) Port() int {
	return e.port
}

// Shutdown gracefully shuts down the broker
func (e *EmbeddedNATS) Shutdown() {
	if e.conn != nil {
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
	log.Println("[Dispatch] NATS server shut down")
}
