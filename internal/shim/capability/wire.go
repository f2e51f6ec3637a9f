package capability

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/mdlayher/vsock"

	"github.com/oriys/warpgrid/internal/logging"
	"github.com/oriys/warpgrid/internal/observability"
	internalvsock "github.com/oriys/warpgrid/internal/pkg/vsock"
	"github.com/oriys/warpgrid/internal/shim/protocol"
)

// Message type tags for the length-prefixed wire protocol, mirroring the
// teacher's VsockMessage{Type, Payload} framing in
// internal/firecracker/vsock.go and internal/wasm/manager.go, but keyed by
// the capability operation name rather than an integer enum -- this
// protocol has no fixed set of guest runtimes to keep wire-compatible
// with, so a string tag is one fewer magic number to keep in sync.
const (
	MsgResolveAddress = "resolve-address"
	MsgDBConnect      = "db-connect"
	MsgDBSend         = "db-send"
	MsgDBRecv         = "db-recv"
	MsgDBClose        = "db-close"
	MsgOpenVirtual    = "open-virtual"
	MsgReadVirtual    = "read-virtual"
	MsgStatVirtual    = "stat-virtual"
	MsgCloseVirtual   = "close-virtual"
)

// WireMessage is a single request frame. TraceContext carries the W3C
// traceparent/tracestate across the vsock boundary so a guest call shows
// up as a child span of the host request that triggered it.
type WireMessage struct {
	Type    string                     `json:"type"`
	Trace   observability.TraceContext `json:"trace,omitempty"`
	Payload json.RawMessage            `json:"payload,omitempty"`
}

// WireResponse is the corresponding reply frame.
type WireResponse struct {
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type resolveAddressRequest struct {
	Hostname string `json:"hostname"`
}

type resolveAddressResponse struct {
	Address string `json:"address"`
}

type dbConnectRequest struct {
	Host     string `json:"host"`
	Port     uint16 `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
	Protocol string `json:"protocol"`
	DSN      string `json:"dsn,omitempty"`
}

type dbHandleResponse struct {
	Handle uint64 `json:"handle"`
}

type dbSendRequest struct {
	Handle uint64 `json:"handle"`
	Data   []byte `json:"data"`
}

type dbSendResponse struct {
	Written int `json:"written"`
}

type dbRecvRequest struct {
	Handle uint64 `json:"handle"`
	Max    int    `json:"max"`
}

type dbRecvResponse struct {
	Data []byte `json:"data"`
}

type dbHandleRequest struct {
	Handle uint64 `json:"handle"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type readVirtualRequest struct {
	Handle uint64 `json:"handle"`
	Length int    `json:"length"`
}

type readVirtualResponse struct {
	Data []byte `json:"data"`
}

func protocolKindFromWire(s string) protocol.Kind {
	switch s {
	case "postgres":
		return protocol.Postgres
	case "mysql":
		return protocol.MySQL
	case "redis":
		return protocol.Redis
	default:
		return protocol.Generic
	}
}

// Server accepts connections on a vsock or Unix domain socket listener and
// dispatches each frame to a Binding, per spec.md §4.10's "this is the only
// surface a guest component may call directly" note.
type Server struct {
	Binding  *Binding
	Listener net.Listener
}

// NewUnixListener removes any stale socket file at path and listens on a
// fresh Unix domain socket, matching the teacher's Daemon.ListenAddr
// convention (internal/config.DaemonConfig.ListenAddr).
func NewUnixListener(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	return l, nil
}

// NewVsockListener binds the given vsock port via mdlayher/vsock. Outside a
// Linux host with vsock support -- the common case in this environment --
// it falls back to the internal/pkg/vsock stub, which itself falls back by
// returning an error so the caller can use NewUnixListener instead.
func NewVsockListener(port uint32) (net.Listener, error) {
	var l net.Listener
	vl, err := vsock.Listen(port, nil)
	if err == nil {
		return vl, nil
	}
	logging.Op().Debug("mdlayher vsock listen failed, trying fallback", "port", port, "error", err)
	l, ferr := internalvsock.Listen(port, nil)
	if ferr != nil {
		return nil, fmt.Errorf("vsock listen on port %d: %w", port, err)
	}
	return l, nil
}

// NewServer wraps listener with a dispatcher over b.
func NewServer(b *Binding, listener net.Listener) *Server {
	return &Server{Binding: b, Listener: listener}
}

// Serve accepts connections until ctx is canceled or the listener closes.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Listener.Close()
	}()
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := readMessage(conn)
		if err != nil {
			if err != io.EOF {
				logging.Op().Debug("wire connection closed", "error", err)
			}
			return
		}
		resp := s.dispatch(ctx, msg)
		if err := writeResponse(conn, resp); err != nil {
			logging.Op().Debug("wire write failed", "error", err)
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, msg *WireMessage) WireResponse {
	ctx = observability.InjectTraceContext(ctx, msg.Trace)
	payload, err := s.call(ctx, msg)
	if err != nil {
		return WireResponse{OK: false, Error: err.Error()}
	}
	return WireResponse{OK: true, Payload: payload}
}

func (s *Server) call(ctx context.Context, msg *WireMessage) (json.RawMessage, error) {
	b := s.Binding
	switch msg.Type {
	case MsgResolveAddress:
		var req resolveAddressRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		addr, err := b.ResolveAddress(ctx, req.Hostname)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resolveAddressResponse{Address: addr})

	case MsgDBConnect:
		var req dbConnectRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		handle, err := b.DBConnect(ctx, DBConnectConfig{
			Host:     req.Host,
			Port:     req.Port,
			Database: req.Database,
			User:     req.User,
			Password: req.Password,
			Protocol: protocolKindFromWire(req.Protocol),
			DSN:      req.DSN,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(dbHandleResponse{Handle: handle})

	case MsgDBSend:
		var req dbSendRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		n, err := b.DBSend(ctx, req.Handle, req.Data)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dbSendResponse{Written: n})

	case MsgDBRecv:
		var req dbRecvRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		data, err := b.DBRecv(ctx, req.Handle, req.Max)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dbRecvResponse{Data: data})

	case MsgDBClose:
		var req dbHandleRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		if err := b.DBClose(ctx, req.Handle); err != nil {
			return nil, err
		}
		return json.Marshal(struct{}{})

	case MsgOpenVirtual:
		var req pathRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		handle, err := b.OpenVirtual(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(dbHandleResponse{Handle: handle})

	case MsgReadVirtual:
		var req readVirtualRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		data, err := b.ReadVirtual(ctx, req.Handle, req.Length)
		if err != nil {
			return nil, err
		}
		return json.Marshal(readVirtualResponse{Data: data})

	case MsgStatVirtual:
		var req pathRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		stat, err := b.StatVirtual(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stat)

	case MsgCloseVirtual:
		var req dbHandleRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return nil, err
		}
		if err := b.CloseVirtual(ctx, req.Handle); err != nil {
			return nil, err
		}
		return json.Marshal(struct{}{})

	default:
		return nil, fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

// readMessage reads one 4-byte big-endian length prefix followed by a JSON
// payload, matching internal/wasm/manager.go's Client.receiveLocked.
func readMessage(r io.Reader) (*WireMessage, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf)
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func writeResponse(w io.Writer, resp WireResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	return writeFull(w, buf)
}

func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// WriteMessage encodes and sends a request frame, used by test clients and
// any in-process caller exercising the wire format directly.
func WriteMessage(w io.Writer, msg WireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	return writeFull(w, buf)
}

// ReadResponse reads one length-prefixed WireResponse frame.
func ReadResponse(r io.Reader) (*WireResponse, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf)
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var resp WireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
