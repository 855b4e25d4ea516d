package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseResource,
				Kind:   KindInvalidHandle,
				Path:   []string{"channel", "release"},
				Code:   -2147024890,
				Detail: "handle 7 not found",
			},
			contains: []string{"[resource]", "invalid_handle", "channel.release", "0x80070006", "handle 7 not found"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseChannel,
				Kind:   KindOutOfMemory,
				Detail: "commit",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[channel]", "out_of_memory", "commit", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoStatusWhenZero(t *testing.T) {
	err := &Error{Phase: PhaseEncode, Kind: KindOverflow}
	if strings.Contains(err.Error(), "status") {
		t.Errorf("zero code should not be rendered: %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCommand,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseResource,
		Kind:  KindClosed,
		Path:  []string{"foo"},
	}

	// Same phase and kind
	if !err.Is(&Error{Phase: PhaseResource, Kind: KindClosed}) {
		t.Error("Is should match same phase and kind")
	}

	// Different phase
	if err.Is(&Error{Phase: PhaseChannel, Kind: KindClosed}) {
		t.Error("Is should not match different phase")
	}

	// Different kind
	if err.Is(&Error{Phase: PhaseResource, Kind: KindWrongState}) {
		t.Error("Is should not match different kind")
	}

	// Kind sentinel ignores phase
	if !errors.Is(err, ErrClosed) {
		t.Error("errors.Is should match the kind sentinel")
	}
	if errors.Is(err, ErrContract) {
		t.Error("errors.Is should not match another kind sentinel")
	}

	// Through a wrapping fmt error
	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, ErrClosed) {
		t.Error("errors.Is should see through fmt wrapping")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(Contract(PhaseResource, "x")); got != KindContract {
		t.Errorf("KindOf = %q, want %q", got, KindContract)
	}
	if got := KindOf(fmt.Errorf("w: %w", Closed(PhaseChannel, "Commit"))); got != KindClosed {
		t.Errorf("KindOf wrapped = %q, want %q", got, KindClosed)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf plain = %q, want empty", got)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseResource, KindInvalidHandle).
		Path("tracker", "release").
		Code(-2147024890).
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "live handle", "freed").
		Build()

	if err.Phase != PhaseResource {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseResource)
	}
	if err.Kind != KindInvalidHandle {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidHandle)
	}
	if len(err.Path) != 2 || err.Path[0] != "tracker" || err.Path[1] != "release" {
		t.Errorf("Path = %v, want [tracker release]", err.Path)
	}
	if err.Code != -2147024890 {
		t.Errorf("Code = %d", err.Code)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected live handle, got freed" {
		t.Errorf("Detail = %v", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Closed", func(t *testing.T) {
		err := Closed(PhaseResource, "GetRefCount")
		if err.Kind != KindClosed {
			t.Errorf("Kind = %v, want %v", err.Kind, KindClosed)
		}
		if !strings.Contains(err.Detail, "GetRefCount") {
			t.Errorf("Detail = %v, should name the operation", err.Detail)
		}
	})

	t.Run("Contract", func(t *testing.T) {
		err := Contract(PhaseResource, "release of handle %d", 3)
		if err.Kind != KindContract {
			t.Errorf("Kind = %v, want %v", err.Kind, KindContract)
		}
		if err.Detail != "release of handle 3" {
			t.Errorf("Detail = %v", err.Detail)
		}
	})

	t.Run("ChannelMismatch", func(t *testing.T) {
		err := ChannelMismatch(PhaseResource, 9)
		if err.Kind != KindChannelMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindChannelMismatch)
		}
		if err.Value != uint32(9) {
			t.Errorf("Value = %v, want 9", err.Value)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseEncode, []string{"guidelines", "x"}, 70000, "u16")
		if err.Kind != KindOverflow {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOverflow)
		}
		if err.Value != 70000 {
			t.Errorf("Value = %v, want 70000", err.Value)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, []string{"message"}, 40, 32)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseCommand, "SetCamera on a 2D visual")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		err := NotFound(PhaseScenario, "channel", "A")
		if err.Kind != KindNotFound || !strings.Contains(err.Detail, `"A"`) {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		cause := errors.New("io")
		err := Wrap(PhaseConfig, KindInvalidData, cause, "read config")
		if !errors.Is(err, cause) {
			t.Error("Wrap should keep the cause in the chain")
		}
	})
}
