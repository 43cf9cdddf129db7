package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/LynnColeArt/tilegemm"
)

func TestPrintCorner(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want string
	}{
		{
			name: "SmallerThanLimit",
			n:    2,
			want: "Matrix multiplication result:\n0 1 \n2 3 \n",
		},
		{
			name: "ClippedToLimit",
			n:    7,
			want: "Matrix multiplication result:\n" +
				"0 1 2 3 4 \n" +
				"7 8 9 10 11 \n" +
				"14 15 16 17 18 \n" +
				"21 22 23 24 25 \n" +
				"28 29 30 31 32 \n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tilegemm.NewMatrix(tt.n)
			for i := range m.Data {
				m.Data[i] = float32(i)
			}

			var buf bytes.Buffer
			if err := printCorner(&buf, m, cornerSize); err != nil {
				t.Fatal(err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("printCorner() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}

func TestRunConstantProduct(t *testing.T) {
	o := defaultOptions()
	o.size = 8
	o.blockSize = 4
	o.verify = true

	var stdout, stderr bytes.Buffer
	if err := run(&stdout, &stderr, o); err != nil {
		t.Fatalf("run() error = %v\nstderr:\n%s", err, stderr.String())
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(lines) != 1+cornerSize {
		t.Fatalf("got %d lines:\n%s", len(lines), stdout.String())
	}
	row := strings.Repeat("48 ", cornerSize)
	for i, line := range lines[1:] {
		if line+" " != row && line != row {
			t.Errorf("row %d = %q, want %q", i, line, row)
		}
	}
	if !strings.Contains(stderr.String(), "8×8 product") {
		t.Errorf("summary missing from stderr:\n%s", stderr.String())
	}
}

func TestRunPartialTrailingBlock(t *testing.T) {
	o := defaultOptions()
	o.size = 10
	o.blockSize = 4
	o.fillA = 1
	o.fillB = 1

	var stdout, stderr bytes.Buffer
	if err := run(&stdout, &stderr, o); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(stdout.String(), strings.Repeat("10 ", cornerSize)) {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*options)
		stage  string
	}{
		{"RejectTrailingBlock", func(o *options) { o.size, o.blockSize, o.remainder = 10, 4, "reject" }, "configure"},
		{"UnknownPolicy", func(o *options) { o.remainder = "pad" }, "configure"},
		{"ZeroSize", func(o *options) { o.size = 0 }, "configure"},
		{"BadLogLevel", func(o *options) { o.logLevel = "loud" }, "parse log level"},
		{"MissingFeature", func(o *options) { o.size = 4; o.features = []string{"not-a-feature"} }, "select accelerator"},
		{"OverBudget", func(o *options) { o.size, o.blockSize, o.memoryLimit = 64, 8, 1024 }, "matmul"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := defaultOptions()
			tt.modify(&o)

			var stdout, stderr bytes.Buffer
			err := run(&stdout, &stderr, o)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.HasPrefix(err.Error(), tt.stage) {
				t.Errorf("error %q does not name stage %q", err, tt.stage)
			}
			if stdout.Len() != 0 {
				t.Errorf("partial result printed:\n%s", stdout.String())
			}
		})
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"-n", "6", "-b", "4", "--fill-a", "1", "--fill-b", "0.5", "--log-level", "warn"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(stdout.String(), strings.Repeat("3 ", cornerSize)) {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
}

func TestRootCommandVersion(t *testing.T) {
	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "tilegemm version ") {
		t.Errorf("version output = %q", stdout.String())
	}
	if strings.Contains(stdout.String(), "Matrix multiplication result") {
		t.Error("--version ran the multiplication")
	}
}

func TestCloseContextLogsPendingFailure(t *testing.T) {
	var logs bytes.Buffer
	logger, err := newLogger(&logs, "warn")
	if err != nil {
		t.Fatal(err)
	}

	ctx, err := tilegemm.NewContext(tilegemm.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	q := ctx.NewQueue()
	q.Submit(func(h *tilegemm.Handler) error {
		return h.HostTask(func() error { return errors.New("unjoined failure") })
	})

	closeContext(ctx, logger)

	if out := logs.String(); !strings.Contains(out, "context close failed") || !strings.Contains(out, "unjoined failure") {
		t.Errorf("close failure not logged:\n%s", out)
	}
}
