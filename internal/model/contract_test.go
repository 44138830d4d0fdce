package model

import (
	"errors"
	"io"
	"testing"
)

func TestWrap(t *testing.T) {
	t.Parallel()

	if Wrap("step", nil) != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	err := Wrap("step", io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrExternal) {
		t.Fatalf("expected ErrExternal in chain: %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected cause in chain: %v", err)
	}
	if err.Error() != "step: unexpected EOF" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	again := Wrap("export", err)
	if again != err {
		t.Fatalf("double wrap should return the original error, got %v", again)
	}
}
