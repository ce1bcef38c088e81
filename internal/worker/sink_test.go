package worker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"logsweep/internal/metrics"
	"logsweep/internal/model"
)

func runSink(t *testing.T, s *Sink, msgs ...model.AlertMessage) error {
	t.Helper()
	c := NewChannel(len(msgs)+1, nil)
	done := make(chan error, 1)
	go func() { done <- s.Run(c) }()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("sink never became ready")
	}

	for _, m := range msgs {
		if err := c.Send(m); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	_ = c.SendSentinel()

	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("sink did not stop after sentinel")
		return nil
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatText, "text": FormatText, "JSONL": FormatJSONL, "json": FormatJSONL}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestSink_Text(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out", "central.log")
	m := metrics.New()
	s, err := OpenSink(dest, FormatText, false, m)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}

	err = runSink(t, s,
		model.NewMatch(model.LogLine{Source: "a.log", Number: 2, Text: "ERROR disk full"}),
		model.NewFailure("b.log", errors.New("not found: gone")),
	)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	b, _ := os.ReadFile(dest)
	want := "From a.log: ERROR disk full\nCRITICAL FAILURE in b.log: not found: gone\n"
	if string(b) != want {
		t.Errorf("destination =\n%q\nwant\n%q", b, want)
	}
	if s.Written() != 2 || m.AlertsWritten != 2 {
		t.Errorf("written = %d / %d", s.Written(), m.AlertsWritten)
	}
}

func TestSink_AppendsToExisting(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.log")
	if err := os.WriteFile(dest, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenSink(dest, FormatText, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := runSink(t, s, alert("ERROR new")); err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(dest)
	if string(b) != "old\nFrom x.log: ERROR new\n" {
		t.Errorf("destination = %q", b)
	}
}

func TestSink_JSONL(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.jsonl")
	s, err := OpenSink(dest, FormatJSONL, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := runSink(t, s, model.NewMatch(model.LogLine{Source: "a.log", Number: 3, Text: "ERROR x"})); err != nil {
		t.Fatal(err)
	}

	b, _ := os.ReadFile(dest)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d", len(lines))
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["kind"] != "match" || got["source"] != "a.log" || got["text"] != "ERROR x" {
		t.Errorf("record = %v", got)
	}
}

func TestSink_EmptyRunCreatesFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.log")
	s, err := OpenSink(dest, FormatText, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := runSink(t, s); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestSink_ClosedChannelAborts(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "central.log")
	s, err := OpenSink(dest, FormatText, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := NewChannel(1, nil)
	c.Close()

	if err := s.Run(c); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Run = %v, want ErrChannelClosed", err)
	}
	if err := c.Send(alert("late")); !errors.Is(err, ErrSinkStopped) {
		t.Errorf("Send after sink failure = %v, want ErrSinkStopped", err)
	}
}

func TestOpenSink_Unwritable(t *testing.T) {
	dir := t.TempDir()
	// destination 자리에 디렉토리가 있으면 open 이 실패한다
	dest := filepath.Join(dir, "central.log")
	if err := os.Mkdir(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenSink(dest, FormatText, false, nil); err == nil {
		t.Fatal("expected error opening a directory as destination")
	}
}
