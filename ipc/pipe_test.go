package ipc

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestPipeName(t *testing.T) {
	name := PipeName("abc")
	if !strings.HasPrefix(name, NamespacePrefix) {
		t.Errorf("PipeName(%q) = %q, missing prefix %q", "abc", name, NamespacePrefix)
	}
	if !strings.HasSuffix(name, "abc") {
		t.Errorf("PipeName(%q) = %q, missing id", "abc", name)
	}
	if !IsPipeName(name) {
		t.Errorf("IsPipeName(%q) = false", name)
	}
}

func TestPipeName_PanicsOnPrefixedID(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an already-prefixed id")
		}
	}()
	PipeName(PipeName("abc"))
}

func TestIsPipeName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{PipeName(DefaultSessionID), true},
		{NamespacePrefix, false},
		{"install", false},
		{"", false},
		{"--config", false},
	}
	for _, tt := range tests {
		if got := IsPipeName(tt.in); got != tt.want {
			t.Errorf("IsPipeName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{DefaultSessionID, false},
		{UniqueSessionID("acme"), false},
		{PipeName("x"), true},
		{"two words", true},
		{"tab\tid", true},
		{`say"hi`, true},
	}
	for _, tt := range tests {
		if err := ValidateSessionID(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateSessionID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestUniqueSessionID(t *testing.T) {
	a, b := UniqueSessionID(""), UniqueSessionID("")
	if a == b {
		t.Errorf("UniqueSessionID returned %q twice", a)
	}
	if !strings.HasPrefix(a, DefaultSessionID+"-") {
		t.Errorf("UniqueSessionID = %q, want prefix %q", a, DefaultSessionID+"-")
	}
}

type nopConn struct{ io.ReadWriter }

func (nopConn) Close() error { return nil }

func TestDial_RetriesWhileBusy(t *testing.T) {
	var attempts atomic.Int32
	open := func(string) (io.ReadWriteCloser, error) {
		if attempts.Add(1) < 3 {
			return nil, ErrPipeBusy
		}
		return nopConn{}, nil
	}

	conn, err := dial(context.Background(), "pipe", time.Second, open)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if conn == nil {
		t.Fatal("dial returned nil conn")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDial_TimesOutWhenAlwaysBusy(t *testing.T) {
	open := func(string) (io.ReadWriteCloser, error) {
		return nil, ErrPipeBusy
	}

	start := time.Now()
	_, err := dial(context.Background(), "pipe", 200*time.Millisecond, open)
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("dial error = %v, want ErrConnectTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("dial gave up after %s, before the timeout", elapsed)
	}
}

func TestDial_OtherErrorsAreImmediate(t *testing.T) {
	notFound := errors.New("no such pipe")
	var attempts int
	open := func(string) (io.ReadWriteCloser, error) {
		attempts++
		return nil, notFound
	}

	_, err := dial(context.Background(), "pipe", time.Second, open)
	if !errors.Is(err, notFound) {
		t.Fatalf("dial error = %v, want %v", err, notFound)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestDial_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	open := func(string) (io.ReadWriteCloser, error) {
		cancel()
		return nil, ErrPipeBusy
	}

	_, err := dial(ctx, "pipe", time.Minute, open)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("dial error = %v, want context.Canceled", err)
	}
}

func TestListen_AcceptDialRoundTrip(t *testing.T) {
	name := PipeName(UniqueSessionID("")[:32])
	ln, err := Listen(name)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	if ln.Name() != name {
		t.Errorf("Name() = %q, want %q", ln.Name(), name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	accepted := make(chan io.ReadWriteCloser, 1)
	go func() {
		conn, err := ln.Accept(ctx)
		if err != nil {
			t.Errorf("Accept failed: %v", err)
			accepted <- nil
			return
		}
		accepted <- conn
	}()

	client, err := Dial(ctx, name, 2*time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	server := <-accepted
	if server == nil {
		t.FailNow()
	}
	defer server.Close()

	go func() { _, _ = client.Write([]byte("hi")) }()
	buf := make([]byte, 2)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(buf) != "hi" {
		t.Errorf("server read %q, want %q", buf, "hi")
	}
}

func TestListen_SecondListenerRejected(t *testing.T) {
	name := PipeName(UniqueSessionID("")[:32])
	ln, err := Listen(name)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	if _, err := Listen(name); !errors.Is(err, ErrEndpointInUse) {
		t.Errorf("second Listen error = %v, want ErrEndpointInUse", err)
	}
}

func TestListener_AcceptHonorsContext(t *testing.T) {
	ln, err := Listen(PipeName(UniqueSessionID("")[:32]))
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := ln.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Accept error = %v, want context.DeadlineExceeded", err)
	}
}
