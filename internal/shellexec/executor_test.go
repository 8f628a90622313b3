package shellexec

import (
	"context"
	"testing"
)

func TestRealExecutorRun(t *testing.T) {
	t.Run("CapturesExitCodeAndOutput", func(t *testing.T) {
		ex := NewRealExecutor()
		code, out, err := ex.Run(context.Background(), "echo hello")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
		if out != "hello" {
			t.Errorf("output = %q, want %q", out, "hello")
		}
	})

	t.Run("NonZeroExitIsNotAnError", func(t *testing.T) {
		ex := NewRealExecutor()
		code, _, err := ex.Run(context.Background(), "exit 3")
		if err != nil {
			t.Fatalf("Run should not error on a clean non-zero exit: %v", err)
		}
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ex := NewRealExecutor()
		_, _, err := ex.Run(ctx, "sleep 1")
		if err == nil {
			t.Errorf("expected an error from a pre-cancelled context")
		}
	})
}
