package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"socket-rpc/message"
	"socket-rpc/metrics"
)

// echoHandler answers every call with the same value.
func echoHandler(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
	return message.ValueResult([]byte(`"ok"`))
}

// slowHandler sleeps 200ms before answering.
func slowHandler(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
	time.Sleep(200 * time.Millisecond)
	return message.ValueResult([]byte(`"ok"`))
}

func panicHandler(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
	panic("boom")
}

func divisionMeta() *message.MethodInvokeMeta {
	return &message.MethodInvokeMeta{
		Interface:      "Demo",
		MethodName:     "division",
		ParameterTypes: []string{"int32", "int32"},
		Args:           [][]byte{[]byte("10"), []byte("2")},
		ReturnType:     "float64",
	}
}

func TestLogging(t *testing.T) {
	handler := Logging(zaptest.NewLogger(t))(echoHandler)

	res := handler(context.Background(), divisionMeta())

	if res == nil {
		t.Fatal("expect non-nil result")
	}
	if string(res.Value) != `"ok"` {
		t.Fatalf("expect value \"ok\", got '%s'", string(res.Value))
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	res := handler(context.Background(), divisionMeta())

	if res.Status != message.StatusValue {
		t.Fatalf("expect value result, got %v", res.Fault)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	res := handler(context.Background(), divisionMeta())

	if res.Fault == nil || res.Fault.Message != "request timed out" {
		t.Fatalf("expect timeout fault, got %+v", res)
	}
	if res.Fault.Kind != message.FaultException {
		t.Fatalf("expect Exception, got %s", res.Fault.Kind)
	}
}

func TestRateLimit(t *testing.T) {
	// 1 per second with burst 2: the first two pass, the third is rejected
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		res := handler(context.Background(), divisionMeta())
		if res.Fault != nil {
			t.Fatalf("request %d should pass, got fault: %v", i, res.Fault)
		}
	}

	res := handler(context.Background(), divisionMeta())
	if res.Fault == nil || res.Fault.Message != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: %+v", res)
	}
}

func TestRecovery(t *testing.T) {
	handler := Recovery(zaptest.NewLogger(t))(panicHandler)

	res := handler(context.Background(), divisionMeta())

	if res.Status != message.StatusFault || res.Fault.Kind != message.FaultException {
		t.Fatalf("expect Exception fault, got %+v", res)
	}
	if res.Fault.Message != "panic: boom" {
		t.Fatalf("unexpected fault message %q", res.Fault.Message)
	}
}

func TestMetrics(t *testing.T) {
	handler := Metrics()(echoHandler)

	handler(context.Background(), divisionMeta())

	n, err := testutil.GatherAndCount(metrics.Registry, "socket_rpc_server_requests_total")
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("expect socket_rpc_server_requests_total to be collected")
	}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, meta *message.MethodInvokeMeta) *message.Result {
				order = append(order, name+".in")
				res := next(ctx, meta)
				order = append(order, name+".out")
				return res
			}
		}
	}

	handler := Chain(trace("a"), trace("b"), Timeout(500*time.Millisecond))(echoHandler)
	res := handler(context.Background(), divisionMeta())

	if res == nil || res.Fault != nil {
		t.Fatalf("expect value result, got %+v", res)
	}
	want := []string{"a.in", "b.in", "b.out", "a.out"}
	if len(order) != len(want) {
		t.Fatalf("expect order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expect order %v, got %v", want, order)
		}
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[string]*message.Result{
		"value":        message.ValueResult([]byte("1")),
		"void":         message.VoidResult(),
		"ErrorParams":  message.FaultResult(message.ErrorParams("bad")),
		"NoSuchMethod": message.FaultResult(message.NoSuchMethod("none")),
		"nil":          nil,
	}
	for want, res := range cases {
		if got := StatusLabel(res); got != want {
			t.Errorf("StatusLabel = %q, want %q", got, want)
		}
	}
}
