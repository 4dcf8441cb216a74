package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Kind is a class of camera acquisition failures.
type Kind uint8

const (
	Unknown Kind = iota
	PermissionDenied
	DeviceNotFound
	DeviceBusy
	RequestAborted
	Timeout
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case DeviceNotFound:
		return "DeviceNotFound"
	case DeviceBusy:
		return "DeviceBusy"
	case RequestAborted:
		return "RequestAborted"
	case Timeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Message returns a text for the user.
func (k Kind) Message() string {
	switch k {
	case PermissionDenied:
		return "You BLOCKED camera. Enable it in system settings."
	case DeviceNotFound:
		return "No camera found. Check hardware."
	case DeviceBusy:
		return "Camera is in use. Close other video apps."
	case RequestAborted:
		return "Camera request was cancelled."
	case Timeout:
		return "Camera permission timeout - user did not respond or blocked"
	default:
		return "Camera Error"
	}
}

type AcquisitionError struct {
	Kind Kind
	Err  error
}

func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("camera: %v", e.Kind)
	}
	return fmt.Sprintf("camera: %v: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ErrNoDevice is returned by device backends which can't find anything to open.
var ErrNoDevice = errors.New("no media device")

// Classify maps a device error to its kind.
func Classify(err error) Kind {
	var ae *AcquisitionError
	switch {
	case err == nil:
		return Unknown
	case errors.As(err, &ae):
		return ae.Kind
	case errors.Is(err, context.Canceled):
		return RequestAborted
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return PermissionDenied
	case errors.Is(err, syscall.EBUSY):
		return DeviceBusy
	case errors.Is(err, ErrNoDevice), errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV),
		strings.Contains(err.Error(), "failed to find"):
		return DeviceNotFound
	}
	return Unknown
}

func newError(err error) *AcquisitionError { return &AcquisitionError{Kind: Classify(err), Err: err} }
