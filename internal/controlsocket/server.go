// Package controlsocket implements the small local control protocol that
// lets external editor plugins query and mutate a file's inline feedback
// without going through the mounted filesystem's regular file I/O path.
// One JSON object in, one JSON object out, per connection.
package controlsocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"time"

	"github.com/codegrade/cgfs/internal/engine"
)

// request is the shape of every request this protocol accepts; which
// fields are meaningful depends on Op.
type request struct {
	Op      string `json:"op"`
	Path    string `json:"file"`
	Line    int    `json:"line"`
	Message string `json:"message"`
}

type response struct {
	OK    bool           `json:"ok"`
	Error string         `json:"error,omitempty"`
	Data  map[int]string `json:"data,omitempty"`
}

// readChunkSize matches the original protocol's framing: a request ends at
// the first read shorter than this many bytes.
const readChunkSize = 1024

// acceptTimeout bounds each Accept call so Serve notices ctx cancellation
// promptly instead of blocking forever on a listener with no pending
// connections.
const acceptTimeout = 1 * time.Second

// Address returns the string an .api.socket file should expose to editor
// plugins: the socket path on Unix, or the "host:port" on Windows where
// Listen instead opened a loopback TCP port.
func Address(socketPath string, ln net.Listener) string {
	if _, ok := ln.Addr().(*net.TCPAddr); ok {
		return ln.Addr().String()
	}
	return socketPath
}

// Server answers control-socket requests against a single Engine. A
// request does not hold the engine's lock for its whole duration: the path
// is resolved one component at a time, each under the lock, and the Remote
// API call that follows runs without it.
type Server struct {
	Engine *engine.Engine
}

// Serve accepts and handles connections until ctx is cancelled or the
// listener is closed. Connections are handled one at a time, matching the
// original's single-client assumption: there is no concurrent multiplexing
// here, by design.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if tl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok {
			tl.SetDeadline(time.Now().Add(acceptTimeout))
		}

		conn, err := ln.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	data, err := readFramed(conn)
	if err != nil {
		log.Printf("controlsocket: read failed: %v", err)
		return
	}

	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		writeResponse(conn, response{OK: false, Error: "invalid request: " + err.Error()})
		return
	}

	writeResponse(conn, s.handle(ctx, req))
}

func (s *Server) handle(ctx context.Context, req request) response {
	switch req.Op {
	case "is_file":
		// The answer itself rides in ok: true only for a server-backed
		// Data file, false for a scratch file, static file or
		// cached-editable file alike. A directory gets an error response.
		isFile, err := s.Engine.IsFile(ctx, req.Path)
		if err != nil {
			return errResponse(err)
		}
		return response{OK: isFile}

	case "get_feedback":
		data, err := s.Engine.GetFeedback(ctx, req.Path)
		if err != nil {
			return errResponse(err)
		}
		return response{OK: true, Data: data}

	case "set_feedback":
		if err := s.Engine.SetFeedback(ctx, req.Path, req.Line, req.Message); err != nil {
			return errResponse(err)
		}
		return response{OK: true}

	case "delete_feedback":
		if err := s.Engine.DeleteFeedback(ctx, req.Path, req.Line); err != nil {
			return errResponse(err)
		}
		return response{OK: true}

	default:
		return response{OK: false, Error: "unknown operation: " + req.Op}
	}
}

func errResponse(err error) response {
	return response{OK: false, Error: err.Error()}
}

func readFramed(conn net.Conn) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return buf, err
		}
		if n < readChunkSize {
			return buf, nil
		}
	}
}

func writeResponse(conn net.Conn, resp response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("controlsocket: marshal response: %v", err)
		return
	}
	if _, err := conn.Write(data); err != nil {
		log.Printf("controlsocket: write response: %v", err)
	}
}
