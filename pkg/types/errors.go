package types

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the expected-signal taxonomy of the log-unit engine.
// IO and LogUnit are treated as fatal by the surrounding server; the rest are
// ordinary control-flow outcomes the caller is expected to branch on.
type ErrorKind int

const (
	KindTrimmed ErrorKind = iota
	KindOverwrite
	KindDataCorruption
	KindDataOutranked
	KindQuotaExceeded
	KindOutOfSpace
	KindIO
	KindIllegalArgument
	KindLogUnit
)

func (k ErrorKind) String() string {
	switch k {
	case KindTrimmed:
		return "TRIMMED"
	case KindOverwrite:
		return "OVERWRITE"
	case KindDataCorruption:
		return "DATA_CORRUPTION"
	case KindDataOutranked:
		return "DATA_OUTRANKED"
	case KindQuotaExceeded:
		return "QUOTA_EXCEEDED"
	case KindOutOfSpace:
		return "OUT_OF_SPACE"
	case KindIO:
		return "IO"
	case KindIllegalArgument:
		return "ILLEGAL_ARGUMENT"
	case KindLogUnit:
		return "LOG_UNIT"
	default:
		return "UNKNOWN"
	}
}

// OverwriteCause classifies why an append collided with an existing record.
type OverwriteCause int

const (
	CauseSameData OverwriteCause = iota
	CauseDifferentData
	CauseTrimmed
	CauseHole
	CauseRank
)

func (c OverwriteCause) String() string {
	switch c {
	case CauseSameData:
		return "SAME_DATA"
	case CauseDifferentData:
		return "DIFFERENT_DATA"
	case CauseTrimmed:
		return "TRIMMED"
	case CauseHole:
		return "HOLE"
	case CauseRank:
		return "RANK"
	default:
		return "UNKNOWN"
	}
}

// LogUnitError is the single error type returned by every package in this
// module for expected conditions; Kind lets callers branch, the optional
// Cause/Address/Err fields carry root-cause detail.
type LogUnitError struct {
	Kind    ErrorKind
	Cause   OverwriteCause
	Address uint64
	Err     error
}

func (e *LogUnitError) Error() string {
	switch e.Kind {
	case KindOverwrite:
		return fmt.Sprintf("%s{%s} at address %d", e.Kind, e.Cause, e.Address)
	case KindDataCorruption:
		return fmt.Sprintf("%s at address %d", e.Kind, e.Address)
	case KindTrimmed:
		return fmt.Sprintf("%s at address %d", e.Kind, e.Address)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *LogUnitError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, types.ErrTrimmed) work against a wrapped kind
// sentinel without exposing the struct's other fields.
func (e *LogUnitError) Is(target error) bool {
	t, ok := target.(*LogUnitError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewTrimmed(address uint64) error {
	return &LogUnitError{Kind: KindTrimmed, Address: address}
}

func NewOverwrite(address uint64, cause OverwriteCause) error {
	return &LogUnitError{Kind: KindOverwrite, Address: address, Cause: cause}
}

func NewDataCorruption(address uint64, err error) error {
	return &LogUnitError{Kind: KindDataCorruption, Address: address, Err: err}
}

func NewDataOutranked(address uint64) error {
	return &LogUnitError{Kind: KindDataOutranked, Address: address}
}

func NewQuotaExceeded() error {
	return &LogUnitError{Kind: KindQuotaExceeded}
}

func NewOutOfSpace(err error) error {
	return &LogUnitError{Kind: KindOutOfSpace, Err: err}
}

func NewIO(err error) error {
	return &LogUnitError{Kind: KindIO, Err: err}
}

func NewIllegalArgument(msg string) error {
	return &LogUnitError{Kind: KindIllegalArgument, Err: fmt.Errorf("%s", msg)}
}

func NewLogUnit(err error) error {
	return &LogUnitError{Kind: KindLogUnit, Err: err}
}

// Sentinels for errors.Is comparisons that only care about Kind.
var (
	ErrTrimmed         = &LogUnitError{Kind: KindTrimmed}
	ErrOverwrite       = &LogUnitError{Kind: KindOverwrite}
	ErrDataCorruption  = &LogUnitError{Kind: KindDataCorruption}
	ErrDataOutranked   = &LogUnitError{Kind: KindDataOutranked}
	ErrQuotaExceeded   = &LogUnitError{Kind: KindQuotaExceeded}
	ErrOutOfSpace      = &LogUnitError{Kind: KindOutOfSpace}
	ErrIO              = &LogUnitError{Kind: KindIO}
	ErrIllegalArgument = &LogUnitError{Kind: KindIllegalArgument}
	ErrLogUnit         = &LogUnitError{Kind: KindLogUnit}
)

// KindOf extracts the ErrorKind from err, or false if err isn't a LogUnitError.
func KindOf(err error) (ErrorKind, bool) {
	var lue *LogUnitError
	if errors.As(err, &lue) {
		return lue.Kind, true
	}
	return 0, false
}
