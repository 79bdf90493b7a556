package terminal

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestChannel(input string) (*Channel, *bytes.Buffer) {
	var out bytes.Buffer
	ch := New(Config{
		Input:  strings.NewReader(input),
		Output: &out,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return ch, &out
}

func TestReadsLinesAsInboundMessages(t *testing.T) {
	ch, _ := newTestChannel("hello\n\nsecond line\n")
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Stop()

	want := []string{"hello", "second line"}
	for _, w := range want {
		select {
		case msg := <-ch.Messages():
			if msg.Text != w {
				t.Errorf("text = %q, want %q", msg.Text, w)
			}
			if got := msg.Session.ID(); got != "cli:local" {
				t.Errorf("session = %q, want cli:local", got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no inbound message for %q", w)
		}
	}
}

func TestInboundClosesOnEOF(t *testing.T) {
	ch, _ := newTestChannel("only\n")
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ch.Stop()

	<-ch.Messages()
	select {
	case _, ok := <-ch.Messages():
		if ok {
			t.Error("expected closed inbound channel after EOF")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel never closed")
	}
}

func TestSendStreamsChunks(t *testing.T) {
	ch, out := newTestChannel("")
	ctx := context.Background()
	session := ch.Session()

	if err := ch.Send(ctx, session, "Hello", false); err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(ctx, session, " world", false); err != nil {
		t.Fatal(err)
	}
	if err := ch.Send(ctx, session, "", true); err != nil {
		t.Fatal(err)
	}

	if got := out.String(); got != "Hello world\n" {
		t.Errorf("output = %q, want %q", got, "Hello world\n")
	}
}

func TestStopUnblocksReader(t *testing.T) {
	// A reader that never produces data keeps the scanner blocked; Stop
	// must still close the inbound stream.
	blocked, _ := io.Pipe()
	var out bytes.Buffer
	ch := New(Config{Input: blocked, Output: &out, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		ch.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	select {
	case _, ok := <-ch.Messages():
		if ok {
			t.Error("inbound open after Stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel never closed")
	}
}
