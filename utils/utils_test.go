package utils

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerBasicFunctions(t *testing.T) {
	User("test user message")
	Info("test info message")
	Warn("test warn message")
	Error("test error message")
	Debug("test debug message")
	if err := Errorf("test error with format: %s", "formatted"); err == nil {
		t.Error("Errorf should return an error")
	}
}

func TestLoggerCtxIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	SetInternalOutput(&buf)
	defer SetLevel("info")

	ctx := WithRequestID(context.Background(), "req-42")
	InfoCtx(ctx, "webhook accepted", "flow_id", "f1")
	if !strings.Contains(buf.String(), "req-42") {
		t.Errorf("expected request id in log output, got %q", buf.String())
	}
	if id, ok := RequestIDFromContext(ctx); !ok || id != "req-42" {
		t.Errorf("RequestIDFromContext = %q, %v", id, ok)
	}
}

func TestErrorfWraps(t *testing.T) {
	base := errors.New("base")
	err := Errorf("outer: %w", base)
	if !errors.Is(err, base) {
		t.Errorf("expected wrapped error")
	}
}

func TestStringify(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"a", "a"},
		{float64(7), "7"},
		{1.5, "1.5"},
		{true, "true"},
		{42, "42"},
		{map[string]any{"a": 1}, `{"a":1}`},
		{[]any{"x", 2}, `["x",2]`},
	}
	for _, tc := range cases {
		if got := Stringify(tc.in); got != tc.want {
			t.Errorf("Stringify(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestToFloat(t *testing.T) {
	if f, ok := ToFloat("3.25"); !ok || f != 3.25 {
		t.Errorf("ToFloat(string) = %v, %v", f, ok)
	}
	if _, ok := ToFloat("abc"); ok {
		t.Error("expected non-numeric string to fail")
	}
	if f, ok := ToFloat(3); !ok || f != 3 {
		t.Errorf("ToFloat(int) = %v, %v", f, ok)
	}
}

func TestWriteHTTPError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTPError(rec, "flow not found", 404)
	if rec.Code != 404 {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flow not found") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestWriteHTTPJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteHTTPJSON(rec, 202, map[string]any{"status": "accepted"}); err != nil {
		t.Fatal(err)
	}
	if rec.Code != 202 || !strings.Contains(rec.Body.String(), "accepted") {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
