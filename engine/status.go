package engine

import (
	"fmt"

	"github.com/wippyai/composition/errors"
)

// Status is the result code of every engine call.
// Non-negative values are success, negative values are failures.
type Status int32

const (
	StatusOK    Status = 0
	StatusFalse Status = 1 // success, nothing done

	StatusNotImplemented      Status = -2147467263 // 0x80004001
	StatusAbort               Status = -2147467260 // 0x80004004
	StatusFail                Status = -2147467259 // 0x80004005
	StatusInvalidHandle       Status = -2147024890 // 0x80070006
	StatusOutOfMemory         Status = -2147024882 // 0x8007000E
	StatusInvalidArg          Status = -2147024809 // 0x80070057
	StatusDisplayStateInvalid Status = -2003304442 // 0x88980006
	StatusDriverInternal      Status = -2003304441 // 0x88980007
	StatusWrongState          Status = -2003303421 // 0x88980403
	StatusChannelClosed       Status = -2003303408 // 0x88980410
	StatusPartitionZombie     Status = -2003303407 // 0x88980411
	StatusCodecUnknownFormat  Status = -2003292409 // 0x88982F07
	StatusCodecBadHeader      Status = -2003292319 // 0x88982F61
)

const (
	codecFacilityMask = 0xFFFFFF00
	codecFacility     = 0x88982F00
)

// Succeeded reports whether s is a success code.
func (s Status) Succeeded() bool { return s >= 0 }

// Failed reports whether s is a failure code.
func (s Status) Failed() bool { return s < 0 }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFalse:
		return "false"
	}
	return fmt.Sprintf("0x%08X", uint32(s))
}

// Kind classifies a failure status. Success codes return "".
func (s Status) Kind() errors.Kind {
	if s.Succeeded() {
		return ""
	}
	switch s {
	case StatusOutOfMemory:
		return errors.KindOutOfMemory
	case StatusDisplayStateInvalid, StatusDriverInternal:
		return errors.KindDevice
	case StatusWrongState, StatusPartitionZombie:
		return errors.KindWrongState
	case StatusInvalidHandle:
		return errors.KindInvalidHandle
	case StatusInvalidArg:
		return errors.KindInvalidInput
	case StatusChannelClosed:
		return errors.KindClosed
	case StatusNotImplemented:
		return errors.KindUnsupported
	}
	if uint32(s)&codecFacilityMask == codecFacility {
		return errors.KindCodec
	}
	return errors.KindFailure
}

// Err converts a failure status into a classified error tagged with phase
// and the operation name. Success codes return nil.
func (s Status) Err(phase errors.Phase, op string) error {
	if s.Succeeded() {
		return nil
	}
	return errors.New(phase, s.Kind()).
		Path(op).
		Code(int32(s)).
		Build()
}
