package serial

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// DefaultBaud is used when the requested baud rate is missing or not a positive integer.
const DefaultBaud = 9600

// Launcher prepares the monitor process for a port. *toolchain.CLI implements it.
type Launcher interface {
	MonitorCommand(port string, baud int) (*exec.Cmd, error)
}

type LauncherFunc func(port string, baud int) (*exec.Cmd, error)

func (f LauncherFunc) MonitorCommand(port string, baud int) (*exec.Cmd, error) {
	return f(port, baud)
}

type Options struct {
	// StartupCheck is how long the monitor must stay up before the session reports it connected.
	StartupCheck time.Duration
	// StopGrace bounds the wait between asking the monitor to exit and killing it.
	StopGrace time.Duration
	// WriteTimeout bounds each frame written to the client.
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.StartupCheck <= 0 {
		o.StartupCheck = 100 * time.Millisecond
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// Bridge connects WebSocket clients to serial monitor processes, one process per connection.
type Bridge struct {
	launcher Launcher
	registry *Registry
	opts     Options
	log      logr.Logger
}

func NewBridge(launcher Launcher, registry *Registry, opts Options, log logr.Logger) *Bridge {
	return &Bridge{
		launcher: launcher,
		registry: registry,
		opts:     opts.withDefaults(),
		log:      log.WithName("serial"),
	}
}

func (b *Bridge) Registry() *Registry {
	return b.registry
}

// Serve runs a session for port on socket and returns once the session has been torn down. The
// session ends when the client disconnects, the monitor exits, ctx is cancelled or either stream
// fails.
func (b *Bridge) Serve(ctx context.Context, socket Socket, port, baud string) *Session {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSession(socket, port, ParseBaud(baud), b.opts, b.log)
	s.cancel = cancel
	s.onClose = func(s *Session) { b.registry.Remove(s.ID) }
	b.registry.Add(s)

	s.run(ctx, b.launcher)
	return s
}

func ParseBaud(s string) int {
	baud, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || baud <= 0 {
		return DefaultBaud
	}
	return baud
}
