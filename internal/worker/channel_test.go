package worker

import (
	"errors"
	"testing"
	"time"

	"logsweep/internal/metrics"
	"logsweep/internal/model"
)

func alert(text string) model.AlertMessage {
	return model.NewMatch(model.LogLine{Source: "x.log", Number: 1, Text: text})
}

func TestChannel_FIFO(t *testing.T) {
	c := NewChannel(4, nil)
	for _, s := range []string{"a", "b", "c"} {
		if err := c.Send(alert(s)); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		msg, err := c.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if msg.Alert.Text != want {
			t.Errorf("got %q, want %q", msg.Alert.Text, want)
		}
	}
}

func TestChannel_SendBlocksWhenFull(t *testing.T) {
	c := NewChannel(1, nil)
	if err := c.Send(alert("first")); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Send(alert("second")) }()

	select {
	case <-done:
		t.Fatal("Send returned while channel was full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := c.Receive(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send still blocked after Receive")
	}
}

func TestChannel_AbortReleasesSenders(t *testing.T) {
	c := NewChannel(1, nil)
	_ = c.Send(alert("fill"))

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- c.Send(alert("blocked")) }()
	}

	time.Sleep(20 * time.Millisecond)
	c.Abort()
	c.Abort() // 두 번째 호출은 no-op

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrSinkStopped) {
				t.Errorf("err = %v, want ErrSinkStopped", err)
			}
		case <-time.After(time.Second):
			t.Fatal("sender not released by Abort")
		}
	}

	if err := c.SendSentinel(); !errors.Is(err, ErrSinkStopped) {
		t.Errorf("SendSentinel after abort = %v", err)
	}
}

func TestChannel_SentinelOnce(t *testing.T) {
	c := NewChannel(4, nil)
	if err := c.SendSentinel(); err != nil {
		t.Fatal(err)
	}
	if err := c.SendSentinel(); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Fatalf("Len = %d, want 1 sentinel", c.Len())
	}
	msg, _ := c.Receive()
	if !msg.Sentinel {
		t.Error("expected sentinel")
	}
}

func TestChannel_ReceiveAfterClose(t *testing.T) {
	c := NewChannel(1, nil)
	c.Close()
	c.Close()
	if _, err := c.Receive(); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("err = %v, want ErrChannelClosed", err)
	}
}

func TestChannel_HighWater(t *testing.T) {
	m := metrics.New()
	c := NewChannel(8, m)
	for i := 0; i < 5; i++ {
		_ = c.Send(alert("x"))
	}
	if m.ChannelHighWater != 5 {
		t.Errorf("ChannelHighWater = %d, want 5", m.ChannelHighWater)
	}
	if c.Cap() != 8 {
		t.Errorf("Cap = %d", c.Cap())
	}
}
