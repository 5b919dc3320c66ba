package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"socket-rpc/codec"
	"socket-rpc/config"
	"socket-rpc/message"
	"socket-rpc/middleware"
	"socket-rpc/protocol"
)

type arith struct {
	touched atomic.Int32
}

func (a *arith) Add(x, y int) int { return x + y }

func (a *arith) Div(x, y int) (float64, error) {
	if y == 0 {
		return 0, message.ErrorParams("divisor must not be 0")
	}
	return float64(x) / float64(y), nil
}

var arithDesc = ServiceDesc{
	Name: "Arith",
	Methods: []MethodDesc{
		{
			Name:           "add",
			ParameterTypes: []string{"int", "int"},
			ReturnType:     "int",
			Handler: func(ctx context.Context, impl any, args *Args) (any, error) {
				var x, y int
				if err := args.Bind(&x, &y); err != nil {
					return nil, err
				}
				return impl.(*arith).Add(x, y), nil
			},
		},
		{
			Name:           "div",
			ParameterTypes: []string{"int", "int"},
			ReturnType:     "float64",
			Handler: func(ctx context.Context, impl any, args *Args) (any, error) {
				var x, y int
				if err := args.Bind(&x, &y); err != nil {
					return nil, err
				}
				return impl.(*arith).Div(x, y)
			},
		},
		{
			Name:       "touch",
			ReturnType: message.TypeVoid,
			Handler: func(ctx context.Context, impl any, args *Args) (any, error) {
				impl.(*arith).touched.Add(1)
				return nil, nil
			},
		},
		{
			Name:       "boom",
			ReturnType: "int",
			Handler: func(ctx context.Context, impl any, args *Args) (any, error) {
				panic("boom")
			},
		},
	},
}

func intArgs(vals ...int) [][]byte {
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(strconv.Itoa(v))
	}
	return out
}

func addMeta(x, y int) *message.MethodInvokeMeta {
	return &message.MethodInvokeMeta{
		Interface:      "Arith",
		MethodName:     "add",
		ParameterTypes: []string{"int", "int"},
		Args:           intArgs(x, y),
		ReturnType:     "int",
	}
}

func testServerConfig() config.ServerConfig {
	cfg := config.Default().Server
	cfg.ReadIdle = time.Second
	return cfg
}

func startServer(t *testing.T, cfg config.ServerConfig, opts ...Option) (*Server, *arith) {
	t.Helper()
	impl := &arith{}
	srv := NewServer(append([]Option{WithConfig(cfg), WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, srv.RegisterService(&arithDesc, impl))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ln) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		assert.NoError(t, srv.Shutdown(time.Second))
		assert.NoError(t, <-served)
	})
	return srv, impl
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, ct codec.CodecType, pkt *message.Packet) {
	t.Helper()
	payload, err := codec.EncodePacket(ct, pkt)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, payload))
}

func receive(t *testing.T, conn net.Conn) (*message.Result, codec.CodecType) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	payload, err := protocol.ReadFrame(conn, 0)
	require.NoError(t, err)
	pkt, ct, err := codec.DecodePacket(payload)
	require.NoError(t, err)
	require.Equal(t, message.KindResult, pkt.Kind)
	return pkt.Result, ct
}

func call(t *testing.T, conn net.Conn, ct codec.CodecType, meta *message.MethodInvokeMeta) *message.Result {
	t.Helper()
	send(t, conn, ct, message.Invoke(meta))
	res, replyCodec := receive(t, conn)
	require.Equal(t, ct, replyCodec, "server must answer in the request's codec")
	return res
}

func TestServer(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())
	conn := dial(t, srv)

	res := call(t, conn, codec.CodecTypeJSON, addMeta(1, 2))

	require.Equal(t, message.StatusValue, res.Status)
	assert.Equal(t, "3", string(res.Value))
}

func TestServerBinaryCodec(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())
	conn := dial(t, srv)

	res := call(t, conn, codec.CodecTypeBinary, addMeta(5, 7))

	require.Equal(t, message.StatusValue, res.Status)
	assert.Equal(t, "12", string(res.Value))
}

func TestServerErrorParamsKeepsConnection(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())
	conn := dial(t, srv)

	div := &message.MethodInvokeMeta{
		Interface:      "Arith",
		MethodName:     "div",
		ParameterTypes: []string{"int", "int"},
		Args:           intArgs(3, 0),
		ReturnType:     "float64",
	}
	res := call(t, conn, codec.CodecTypeJSON, div)
	require.Equal(t, message.StatusFault, res.Status)
	assert.Equal(t, message.FaultErrorParams, res.Fault.Kind)
	assert.Equal(t, "divisor must not be 0", res.Fault.Message)

	div.Args = intArgs(10, 2)
	res = call(t, conn, codec.CodecTypeJSON, div)
	require.Equal(t, message.StatusValue, res.Status)
	assert.Equal(t, "5", string(res.Value))
}

func TestServerNoSuchMethodClosesConnection(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())

	cases := map[string]*message.MethodInvokeMeta{
		"unknown interface": {Interface: "Nope", MethodName: "add", ParameterTypes: []string{"int", "int"}, Args: intArgs(1, 2)},
		"unknown method":    {Interface: "Arith", MethodName: "mul", ParameterTypes: []string{"int", "int"}, Args: intArgs(1, 2)},
		"wrong signature":   {Interface: "Arith", MethodName: "add", ParameterTypes: []string{"int64", "int64"}, Args: intArgs(1, 2)},
	}
	for name, meta := range cases {
		t.Run(name, func(t *testing.T) {
			conn := dial(t, srv)

			res := call(t, conn, codec.CodecTypeJSON, meta)
			require.Equal(t, message.StatusFault, res.Status)
			assert.Equal(t, message.FaultNoSuchMethod, res.Fault.Kind)

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			_, err := protocol.ReadFrame(conn, 0)
			require.Error(t, err, "connection must be closed after NoSuchMethod")
			var ne net.Error
			assert.False(t, errors.As(err, &ne) && ne.Timeout(), "expected close, got timeout")
		})
	}
}

func TestServerVoidMethod(t *testing.T) {
	srv, impl := startServer(t, testServerConfig())
	conn := dial(t, srv)

	res := call(t, conn, codec.CodecTypeJSON, &message.MethodInvokeMeta{
		Interface:  "Arith",
		MethodName: "touch",
		ReturnType: message.TypeVoid,
	})

	assert.Equal(t, message.StatusVoid, res.Status)
	assert.Empty(t, res.Value)
	assert.Equal(t, int32(1), impl.touched.Load())
}

func TestServerPanicBecomesException(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())
	conn := dial(t, srv)

	res := call(t, conn, codec.CodecTypeJSON, &message.MethodInvokeMeta{
		Interface:  "Arith",
		MethodName: "boom",
		ReturnType: "int",
	})
	require.Equal(t, message.StatusFault, res.Status)
	assert.Equal(t, message.FaultException, res.Fault.Kind)

	// still usable
	res = call(t, conn, codec.CodecTypeJSON, addMeta(2, 2))
	assert.Equal(t, "4", string(res.Value))
}

func TestServerHeartbeatNotDispatched(t *testing.T) {
	var dispatched atomic.Int32
	counter := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
			dispatched.Add(1)
			return next(ctx, meta)
		}
	}
	srv, _ := startServer(t, testServerConfig(), WithMiddleware(counter))
	conn := dial(t, srv)

	for i := 0; i < 5; i++ {
		send(t, conn, codec.CodecTypeJSON, message.Heartbeat())
	}
	res := call(t, conn, codec.CodecTypeJSON, addMeta(1, 1))

	assert.Equal(t, "2", string(res.Value))
	assert.Equal(t, int32(1), dispatched.Load(), "heartbeats must never reach the dispatcher")
}

func TestServerBadHeartbeatTokenClosesConnection(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())
	conn := dial(t, srv)

	// kind=heartbeat, codec=json, wrong token
	require.NoError(t, protocol.WriteFrame(conn, append([]byte{0, 0}, "pong"...)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(conn, 0)
	require.Error(t, err)
	require.Eventually(t, func() bool { return srv.ConnCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServerIdleEviction(t *testing.T) {
	cfg := testServerConfig()
	cfg.ReadIdle = 50 * time.Millisecond
	cfg.MaxIdleMisses = 3
	srv, _ := startServer(t, cfg)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return srv.ConnCount() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(conn, 0)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "evicted before three idle windows")
	require.Eventually(t, func() bool { return srv.ConnCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServerHeartbeatKeepsConnectionAlive(t *testing.T) {
	cfg := testServerConfig()
	cfg.ReadIdle = 50 * time.Millisecond
	cfg.MaxIdleMisses = 3
	srv, _ := startServer(t, cfg)

	conn := dial(t, srv)
	for i := 0; i < 10; i++ {
		send(t, conn, codec.CodecTypeJSON, message.Heartbeat())
		time.Sleep(30 * time.Millisecond)
	}

	assert.Equal(t, 1, srv.ConnCount())
	res := call(t, conn, codec.CodecTypeJSON, addMeta(20, 22))
	assert.Equal(t, "42", string(res.Value))
}

func TestServerRegisterAfterServe(t *testing.T) {
	srv, _ := startServer(t, testServerConfig())

	err := srv.RegisterService(&ServiceDesc{Name: "Late"}, struct{}{})
	assert.ErrorIs(t, err, ErrServerStarted)

	impl, ok := srv.Resolve("Arith")
	assert.True(t, ok)
	assert.IsType(t, &arith{}, impl)
	_, ok = srv.Resolve("Late")
	assert.False(t, ok)
}

func TestServerShutdownClosesConnections(t *testing.T) {
	srv := NewServer(WithConfig(testServerConfig()))
	require.NoError(t, srv.RegisterService(&arithDesc, &arith{}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- srv.ServeListener(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.ConnCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Shutdown(time.Second))
	require.NoError(t, <-served)
	assert.Equal(t, 0, srv.ConnCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = protocol.ReadFrame(conn, 0)
	assert.Error(t, err)
}

func roundTrip(conn net.Conn, meta *message.MethodInvokeMeta) (*message.Result, error) {
	payload, err := codec.EncodePacket(codec.CodecTypeJSON, message.Invoke(meta))
	if err != nil {
		return nil, err
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	if payload, err = protocol.ReadFrame(conn, 0); err != nil {
		return nil, err
	}
	pkt, _, err := codec.DecodePacket(payload)
	if err != nil {
		return nil, err
	}
	return pkt.Result, nil
}

func TestServerMultipleAcceptLoops(t *testing.T) {
	cfg := testServerConfig()
	cfg.AcceptGoroutines = 4
	cfg.WorkerGoroutines = 2
	srv, _ := startServer(t, cfg)

	const n = 8
	conns := make([]net.Conn, n)
	for i := range conns {
		conns[i] = dial(t, srv)
		require.NoError(t, conns[i].SetDeadline(time.Now().Add(5*time.Second)))
	}

	type outcome struct {
		want string
		res  *message.Result
		err  error
	}
	results := make(chan outcome, n)
	for i, conn := range conns {
		go func(i int, conn net.Conn) {
			res, err := roundTrip(conn, addMeta(i, i))
			results <- outcome{want: strconv.Itoa(2 * i), res: res, err: err}
		}(i, conn)
	}
	for i := 0; i < n; i++ {
		o := <-results
		require.NoError(t, o.err)
		assert.Equal(t, o.want, string(o.res.Value))
	}
	assert.Equal(t, n, srv.ConnCount())
}
