package serial

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/fasthttp/websocket"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSessionClosed is returned by Send once teardown has finished.
var ErrSessionClosed = errors.New("serial session is closed")

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateExited
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Socket is the part of a WebSocket connection a session uses. The connection stays owned by the
// transport layer.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Session pairs one socket with one "arduino-cli monitor" process. The process is started at
// most once and never replaced.
type Session struct {
	ID        uuid.UUID
	Port      string
	Baud      int
	StartedAt time.Time

	socket  Socket
	writeMu sync.Mutex

	state  atomic.Int32
	opts   Options
	log    logr.Logger
	cancel context.CancelFunc

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	errOutput  *tailBuffer
	writes     chan []byte
	exited     chan struct{}
	stdoutDone chan struct{}
	stderrDone chan struct{}
	fatal      chan error
	done       chan struct{}
	finished   chan struct{}
	wg         sync.WaitGroup

	teardownOnce sync.Once
	teardowns    atomic.Int32
	onClose      func(*Session)
}

func newSession(socket Socket, port string, baud int, opts Options, log logr.Logger) *Session {
	opts = opts.withDefaults()
	id := uuid.New()
	return &Session{
		ID:         id,
		Port:       port,
		Baud:       baud,
		StartedAt:  time.Now(),
		socket:     socket,
		errOutput:  newTailBuffer(maxErrorOutput),
		writes:     make(chan []byte),
		opts:       opts,
		log:        log.WithValues("session", id, "port", port, "baud", baud),
		exited:     make(chan struct{}),
		stdoutDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
		fatal:      make(chan error, 1),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Send writes one text frame. Writes are serialized so frames from one source keep their order,
// and each is bounded by the write timeout so a client that stops reading cannot hold the lock.
// Frames are dropped once teardown has started.
func (s *Session) Send(frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if err := s.socket.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	return s.socket.WriteMessage(websocket.TextMessage, []byte(frame))
}

// Close asks the session to end. It does not wait for teardown; use Done for that.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed when teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.finished
}

// Teardowns reports how many times the teardown sequence ran.
func (s *Session) Teardowns() int {
	return int(s.teardowns.Load())
}

func (s *Session) Info() Info {
	return Info{ID: s.ID, Port: s.Port, Baud: s.Baud, State: s.State(), StartedAt: s.StartedAt}
}

func (s *Session) send(frame string) {
	if err := s.Send(frame); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.log.V(1).Info("could not send frame", "error", err.Error())
	}
}

// run drives the session from launch to teardown. Teardown runs on every return path.
func (s *Session) run(ctx context.Context, launcher Launcher) {
	defer s.teardown()

	cmd, err := launcher.MonitorCommand(s.Port, s.Baud)
	if err != nil {
		s.log.Error(err, "cannot start serial monitor")
		s.send("Error: " + err.Error())
		return
	}

	s.log.Info("connecting to serial port")
	s.send(fmt.Sprintf("Connecting to %s at %d baud...", s.Port, s.Baud))

	if err := s.start(cmd); err != nil {
		s.log.Error(err, "failed to start arduino-cli monitor")
		s.send("Error: Failed to start arduino-cli monitor: " + err.Error())
		return
	}

	check := time.NewTimer(s.opts.StartupCheck)
	select {
	case <-s.exited:
		check.Stop()
		s.awaitOutput(s.stderrDone)
		msg := fmt.Sprintf("Failed to connect to port %s: %s", s.Port, s.errOutput.trimmed())
		s.log.Info("serial monitor exited during startup", "stderr", s.errOutput.trimmed())
		s.send("Error: " + msg)
		return
	case <-ctx.Done():
		check.Stop()
		return
	case <-check.C:
	}

	s.setState(StateStarting, StateRunning)
	s.send(fmt.Sprintf("Connected to %s at %d baud", s.Port, s.Baud))
	s.log.Info("serial monitor connected")

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	s.wg.Add(3)
	go s.pumpOutput()
	go s.pumpInput()
	go s.readSocket(inbound, readErr)

	// At most one inbound frame waits for the stdin writer; socket reads pause until it is taken.
	var (
		pending []byte
		queued  bool
	)
	for {
		var in <-chan []byte = inbound
		var out chan<- []byte
		if queued {
			in, out = nil, s.writes
		}

		select {
		case <-s.exited:
			s.reportExit()
			return
		case msg := <-in:
			pending, queued = msg, true
		case out <- pending:
			pending, queued = nil, false
		case err := <-readErr:
			if isPeerClose(err) {
				s.log.Info("websocket disconnected")
			} else {
				s.log.Error(err, "websocket read failed")
				s.send("Error: " + err.Error())
			}
			return
		case err := <-s.fatal:
			s.log.Error(err, "serial bridge failed")
			s.send("Error: " + err.Error())
			return
		case <-ctx.Done():
			s.log.V(1).Info("session cancelled")
			return
		}
	}
}

func (s *Session) start(cmd *exec.Cmd) error {
	var err error
	if s.stdin, err = cmd.StdinPipe(); err != nil {
		return err
	}
	if s.stdout, err = cmd.StdoutPipe(); err != nil {
		return err
	}
	if s.stderr, err = cmd.StderrPipe(); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	s.cmd = cmd
	s.log.V(1).Info("serial monitor started", "pid", cmd.Process.Pid, "args", cmd.Args)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer close(s.stderrDone)
		if _, err := io.Copy(s.errOutput, s.stderr); err != nil && !isClosedPipe(err) {
			s.log.V(1).Info("stderr drain stopped", "error", err.Error())
		}
	}()
	go func() {
		defer s.wg.Done()
		state, err := cmd.Process.Wait()
		if err != nil {
			s.log.Error(err, "could not wait for serial monitor")
		} else {
			s.log.V(1).Info("serial monitor exited", "exitCode", state.ExitCode())
		}
		s.setState(StateStarting, StateExited)
		s.setState(StateRunning, StateExited)
		close(s.exited)
	}()
	return nil
}

// pumpOutput turns each stdout line into one frame, in order, with trailing whitespace removed.
func (s *Session) pumpOutput() {
	defer s.wg.Done()
	defer close(s.stdoutDone)

	r := bufio.NewReader(s.stdout)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			frame := strings.ToValidUTF8(strings.TrimRightFunc(line, unicode.IsSpace), "\uFFFD")
			if sendErr := s.Send(frame); sendErr != nil {
				if !errors.Is(sendErr, ErrSessionClosed) {
					s.raise(errors.Wrap(sendErr, "write to websocket"))
				}
				return
			}
		}
		if err != nil {
			if err != io.EOF && !isClosedPipe(err) {
				s.raise(errors.Wrap(err, "read from serial monitor"))
			}
			return
		}
	}
}

func (s *Session) readSocket(inbound chan<- []byte, readErr chan<- error) {
	defer s.wg.Done()
	for {
		_, msg, err := s.socket.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			case <-s.done:
			}
			return
		}
		select {
		case inbound <- msg:
		case <-s.done:
			return
		}
	}
}

// pumpInput feeds inbound frames to the monitor's stdin in order. It runs apart from run, so a
// monitor that stops reading its input blocks only this goroutine; teardown unblocks it by
// stopping the process and closing the pipe.
func (s *Session) pumpInput() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.writes:
			s.forward(msg)
		case <-s.done:
			return
		}
	}
}

// forward writes one inbound frame to the monitor's stdin. Nothing is written once the process
// has exited.
func (s *Session) forward(msg []byte) {
	select {
	case <-s.exited:
		s.send("Error: Serial connection is closed")
		return
	default:
	}

	if _, err := s.stdin.Write(append(msg, '\n')); err != nil {
		select {
		case <-s.done:
			s.log.V(1).Info("stdin write interrupted by teardown", "error", err.Error())
			return
		default:
		}
		s.log.Error(err, "error sending to serial")
		s.send("Error sending: " + err.Error())
		return
	}
	s.log.V(1).Info("sent to serial", "data", string(msg))
}

func (s *Session) reportExit() {
	s.awaitOutput(s.stdoutDone)
	s.awaitOutput(s.stderrDone)
	if out := s.errOutput.trimmed(); out != "" {
		s.log.Info("port monitor error", "stderr", out)
		s.send("Error: Port monitor error: " + out)
		return
	}
	s.log.Info("serial connection closed")
	s.send("Serial connection closed")
}

// awaitOutput waits for a drain goroutine to reach EOF. A descendant of the monitor can hold the
// pipe open, so the wait is bounded by the stop grace period.
func (s *Session) awaitOutput(done <-chan struct{}) {
	timer := time.NewTimer(s.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		s.log.V(1).Info("output still open after monitor exit")
	}
}

func (s *Session) raise(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.teardowns.Add(1)
		close(s.done)

		if err := s.socket.SetReadDeadline(time.Now()); err != nil {
			s.log.V(1).Info("could not interrupt websocket read", "error", err.Error())
		}
		if s.cmd != nil {
			s.stopProcess()
			for _, c := range []io.Closer{s.stdin, s.stdout, s.stderr} {
				if err := c.Close(); err != nil && !isClosedPipe(err) {
					s.log.V(1).Info("could not close pipe", "error", err.Error())
				}
			}
		}
		s.wg.Wait()
		s.state.Store(int32(StateClosed))

		if s.onClose != nil {
			s.onClose(s)
		}
		s.log.Info("serial session closed")
		close(s.finished)
	})
}

// stopProcess asks the monitor to exit and kills it if it is still running after the grace
// period.
func (s *Session) stopProcess() {
	select {
	case <-s.exited:
		return
	default:
	}

	err := terminate(s.cmd.Process)
	switch {
	case errors.Is(err, os.ErrProcessDone):
		<-s.exited
		return
	case err != nil:
		s.log.Error(err, "could not terminate serial monitor")
	}

	timer := time.NewTimer(s.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-s.exited:
		s.log.V(1).Info("serial monitor stopped")
		return
	case <-timer.C:
	}

	s.log.Info("serial monitor did not exit in time, killing", "grace", s.opts.StopGrace)
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Error(err, "could not kill serial monitor")
	}
	<-s.exited
}

func isPeerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

func isClosedPipe(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
