package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "''"},
		{"plain", "plain"},
		{"/tmp/scan 01.pdf", "'/tmp/scan 01.pdf'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
		{"a;rm -rf /", "'a;rm -rf /'"},
	}

	for _, tt := range tests {
		if got := Quote(tt.input); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "pdftk", Args: []string{"my file.pdf", "cat", "1", "output", "01.pdf"}}
	want := "pdftk 'my file.pdf' cat 1 output 01.pdf"
	if got := c.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestExecRunnerCapturesAndEchoes(t *testing.T) {
	var echo bytes.Buffer
	r := NewExec(&echo, 0)

	res, err := r.Run(context.Background(), Command{Name: "echo", Args: []string{"hello world"}, Prefix: "[p1]"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Output != "hello world\n" {
		t.Errorf("Output = %q", res.Output)
	}
	if echo.String() != "[p1] hello world\n" {
		t.Errorf("echo = %q", echo.String())
	}
}

func TestExecRunnerStdinAndStdout(t *testing.T) {
	var sink bytes.Buffer
	r := NewExec(nil, 0)

	_, err := r.Run(context.Background(), Command{
		Name:   "cat",
		Stdin:  strings.NewReader("<html>hocr</html>"),
		Stdout: &sink,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if sink.String() != "<html>hocr</html>" {
		t.Errorf("stdout sink = %q", sink.String())
	}
}

func TestExecRunnerExitError(t *testing.T) {
	r := NewExec(nil, 0)

	_, err := r.Run(context.Background(), Command{Name: "false"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.Code == 0 {
		t.Error("expected non-zero exit code")
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	r := NewExec(nil, 50*time.Millisecond)

	start := time.Now()
	_, err := r.Run(context.Background(), Command{Name: "sleep", Args: []string{"5"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("command was not stopped at the timeout")
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	r := NewExec(nil, 0)

	_, err := r.Run(context.Background(), Command{Name: "pdfocr-no-such-tool"})
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Fatal("missing binary should not be reported as an exit error")
	}
}

func TestLineWriterFlushesPartialLine(t *testing.T) {
	var buf, out bytes.Buffer
	r := NewExec(&out, 0)
	lw := &lineWriter{buf: &buf, out: &out, mu: &r.mu}

	lw.Write([]byte("first\nsec"))
	lw.Write([]byte("ond"))
	if out.String() != "first\n" {
		t.Fatalf("echo before flush = %q", out.String())
	}
	lw.flush()
	if out.String() != "first\nsecond\n" {
		t.Fatalf("echo after flush = %q", out.String())
	}
	if buf.String() != "first\nsecond" {
		t.Fatalf("buffer = %q", buf.String())
	}
}
