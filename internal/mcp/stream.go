package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/Nileshshinde09/cortex/internal/logging"
)

// MessageConn carries whole JSON-RPC messages. Stdio frames them as lines,
// WebSocket as text frames.
type MessageConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// messageStream is a jsonrpc2.ObjectStream over a MessageConn. Single
// requests go through the jsonrpc2 connection; batches and malformed input
// are answered here so a bad message does not close the connection.
type messageStream struct {
	ctx       context.Context
	srv       *Server
	transport string
	mc        MessageConn

	wmu     sync.Mutex
	readErr error
}

func (m *messageStream) WriteObject(obj any) error {
	b, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return m.write(b)
}

func (m *messageStream) write(b []byte) error {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	return m.mc.WriteMessage(b)
}

func (m *messageStream) ReadObject(v any) error {
	for {
		data, err := m.mc.ReadMessage()
		if err != nil {
			m.readErr = err
			return err
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		if data[0] == '{' && isRequest(data) {
			if err := json.Unmarshal(data, v); err == nil {
				return nil
			}
		}
		if resp := m.srv.HandleMessage(m.ctx, m.transport, data); resp != nil {
			if err := m.write(resp); err != nil {
				return err
			}
		}
	}
}

func (m *messageStream) Close() error {
	return m.mc.Close()
}

func isRequest(data []byte) bool {
	var p envelope
	return json.Unmarshal(data, &p) == nil && p.JSONRPC == "2.0" && isString(p.Method)
}

// Serve answers messages on mc until the peer disconnects or ctx is
// cancelled. A clean end of input returns nil.
func (s *Server) Serve(ctx context.Context, mc MessageConn, transport string) error {
	s.metrics.ConnOpened(transport)
	defer s.metrics.ConnClosed(transport)

	stream := &messageStream{ctx: ctx, srv: s, transport: transport, mc: mc}
	conn := jsonrpc2.NewConn(ctx, stream, s.Handler(transport))
	select {
	case <-ctx.Done():
		conn.Close()
		return nil
	case <-conn.DisconnectNotify():
	}
	if err := stream.readErr; err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, io.ErrClosedPipe) {
		logging.Warn("connection ended", "transport", transport, "error", err)
		return err
	}
	return nil
}

// lineConn frames messages as newline-delimited JSON.
type lineConn struct {
	r *bufio.Reader
	w io.Writer
	c io.Closer
}

// NewLineConn returns a MessageConn reading lines from r and writing lines
// to w. closer may be nil.
func NewLineConn(r io.Reader, w io.Writer, closer io.Closer) MessageConn {
	return &lineConn{r: bufio.NewReaderSize(r, 64*1024), w: w, c: closer}
}

func (l *lineConn) ReadMessage() ([]byte, error) {
	line, err := l.r.ReadBytes('\n')
	if len(bytes.TrimSpace(line)) > 0 {
		return line, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

func (l *lineConn) WriteMessage(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(append(buf, data...), '\n')
	_, err := l.w.Write(buf)
	return err
}

func (l *lineConn) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// ServeStdio answers newline-delimited JSON-RPC on r and w.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	logging.Info("stdio transport ready")
	return s.Serve(ctx, NewLineConn(r, w, nil), "stdio")
}
