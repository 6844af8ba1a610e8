package protocol

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/winusb/types"
)

func ptr[T any](v T) *T { return &v }

func testDevice() types.Device {
	return types.Device{
		VendorID:       0x1209,
		ProductID:      0x0001,
		Composite:      true,
		InterfaceIndex: ptr(uint8(2)),
		DriverVersion:  ptr(uint64(0x0006000100000000)),
		Description:    "Test Board",
		Driver:         ptr("usbccgp"),
		DeviceID:       ptr(`USB\VID_1209&PID_0001&MI_02\6&1234`),
		HardwareID:     ptr(`USB\VID_1209&PID_0001&MI_02`),
		CompatibleID:   ptr(`USB\Class_ff&SubClass_00&Prot_00`),
	}
}

func TestOrchestratorMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  OrchestratorMessage
	}{
		{
			name: "install request",
			msg: InstallRequest{
				Config: types.InstallConfig{
					Vendor:     "Acme",
					DriverPath: `C:\usb_driver`,
					InfName:    "acme_winusb.inf",
				},
				Devices: []types.Device{testDevice(), {VendorID: 0xdead, ProductID: 0xbeef}},
			},
		},
		{name: "configure log sink", msg: ConfigureLogSink{Window: 0x000A_0B0C}},
		{name: "configure log sink max", msg: ConfigureLogSink{Window: ^uint64(0)}},
		{name: "terminate", msg: Terminate{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeOrchestratorMessage(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := DecodeOrchestratorMessage(payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %#v, want %#v", got, tt.msg)
			}
		})
	}
}

func TestWorkerMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  WorkerMessage
	}{
		{name: "device ok", msg: DeviceResult{Result: types.DeviceResult{Device: testDevice()}}},
		{name: "device failed", msg: DeviceResult{Result: types.DeviceResult{
			Device: types.Device{VendorID: 1, ProductID: 2},
			Err:    "x",
		}}},
		{name: "error", msg: Error{Text: "enumeration failed"}},
		{name: "install started", msg: InstallStarted{}},
		{name: "install finished", msg: InstallFinished{}},
		{name: "heartbeat", msg: Heartbeat{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := EncodeWorkerMessage(tt.msg)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			got, err := DecodeWorkerMessage(payload)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip = %#v, want %#v", got, tt.msg)
			}
		})
	}
}

// TestWireLayout pins the envelope shape: [discriminant, [fields...]].
func TestWireLayout(t *testing.T) {
	payload, err := EncodeOrchestratorMessage(ConfigureLogSink{Window: 7})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var raw []any
	if err := msgpack.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("envelope len = %d, want 2", len(raw))
	}
	if tag, ok := raw[0].(int8); !ok || tag != int8(tagConfigureLogSink) {
		t.Errorf("discriminant = %#v, want %d", raw[0], tagConfigureLogSink)
	}
	body, ok := raw[1].([]any)
	if !ok || len(body) != 1 {
		t.Fatalf("body = %#v, want one-element array", raw[1])
	}

	heartbeat, err := EncodeWorkerMessage(Heartbeat{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// fixarray(2), positive fixint 4, fixarray(0)
	want := []byte{0x92, 0x04, 0x90}
	if !reflect.DeepEqual(heartbeat, want) {
		t.Errorf("heartbeat bytes = % x, want % x", heartbeat, want)
	}
}

func TestDecode_Rejects(t *testing.T) {
	mustMarshal := func(v any) []byte {
		t.Helper()
		b, err := msgpack.Marshal(v)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		return b
	}

	heartbeat, _ := EncodeWorkerMessage(Heartbeat{})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"not an array", mustMarshal("hello")},
		{"wrong arity", mustMarshal([]any{uint8(4)})},
		{"unknown discriminant", mustMarshal([]any{uint8(99), []any{}})},
		{"wrong body type", mustMarshal([]any{uint8(tagError), "not an array"})},
		{"trailing bytes", append(append([]byte{}, heartbeat...), 0xc0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if msg, err := DecodeWorkerMessage(tt.payload); err == nil {
				t.Errorf("Decode = %#v, want error", msg)
			}
		})
	}
}

// TestDecode_RoleMismatch checks that a worker message is not accepted
// as an orchestrator message with the same discriminant and shape.
func TestDecode_RoleMismatch(t *testing.T) {
	payload, err := EncodeWorkerMessage(InstallFinished{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	// tagInstallFinished (3) is out of range for orchestrator messages.
	if _, err := DecodeOrchestratorMessage(payload); err == nil {
		t.Error("expected error decoding a worker-only discriminant")
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := EncodeOrchestratorMessage(nil); err == nil {
		t.Error("expected error for nil orchestrator message")
	}
	if _, err := EncodeWorkerMessage(nil); err == nil {
		t.Error("expected error for nil worker message")
	}
}

func TestChannelPairing(t *testing.T) {
	a, b := net.Pipe()
	orch := NewOrchestratorChannel(a)
	worker := NewWorkerChannel(b)
	defer orch.Close()
	defer worker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() { _ = orch.Send(ConfigureLogSink{Window: 42}) }()
	got, ok, err := worker.Receive(ctx)
	if err != nil || !ok {
		t.Fatalf("worker Receive = (%v, %v)", ok, err)
	}
	if sink, isSink := got.(ConfigureLogSink); !isSink || sink.Window != 42 {
		t.Errorf("worker received %#v, want ConfigureLogSink{42}", got)
	}

	go func() { _ = worker.Send(Heartbeat{}) }()
	reply, ok, err := orch.Receive(ctx)
	if err != nil || !ok {
		t.Fatalf("orchestrator Receive = (%v, %v)", ok, err)
	}
	if _, isHeartbeat := reply.(Heartbeat); !isHeartbeat {
		t.Errorf("orchestrator received %#v, want Heartbeat", reply)
	}
}

func TestNameOf(t *testing.T) {
	tests := []struct {
		msg  any
		want string
	}{
		{InstallRequest{}, "install_request"},
		{Terminate{}, "terminate"},
		{Heartbeat{}, "heartbeat"},
		{Error{Text: "x"}, "error"},
		{42, "unknown"},
	}
	for _, tt := range tests {
		if got := NameOf(tt.msg); got != tt.want {
			t.Errorf("NameOf(%T) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
