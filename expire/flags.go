package expire

import (
	"errors"
	"strings"
)

// Flags are the conditional modifiers of the EXPIRE command family
type Flags struct {
	NX bool // only when the key has no expiry
	XX bool // only when the key already has an expiry
	GT bool // only when the new expiry is later than the current one
	LT bool // only when the new expiry is earlier than the current one
}

var (
	// ErrGTAndLT rejects combining the two ordering conditions
	ErrGTAndLT = errors.New("GT and LT options at the same time are not compatible")

	// ErrNXCombined rejects combining NX with any other condition
	ErrNXCombined = errors.New("NX and XX, GT or LT options at the same time are not compatible")

	// ErrUnknownFlag rejects an unrecognized option token
	ErrUnknownFlag = errors.New("Unsupported option")
)

// ParseFlags reads the trailing option tokens of an EXPIRE-family command
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	for _, arg := range args {
		switch strings.ToUpper(arg) {
		case "NX":
			f.NX = true
		case "XX":
			f.XX = true
		case "GT":
			f.GT = true
		case "LT":
			f.LT = true
		default:
			return Flags{}, ErrUnknownFlag
		}
	}
	if err := f.Validate(); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Validate checks flag compatibility before any key state is consulted
func (f Flags) Validate() error {
	if f.GT && f.LT {
		return ErrGTAndLT
	}
	if f.NX && (f.XX || f.GT || f.LT) {
		return ErrNXCombined
	}
	return nil
}

// Allows decides whether the new absolute expiry may be applied given the
// key's current expiry in the -2/-1/absolute-ms convention. A missing key
// (-2) never accepts; a key without expiry (-1) counts as infinitely far
// in the future for GT and LT.
func (f Flags) Allows(current, target int64) bool {
	if current == -2 {
		return false
	}
	if f.NX {
		return current == -1
	}
	if f.XX && current == -1 {
		return false
	}
	if f.GT {
		// no current expiry is later than any finite target
		return current != -1 && target > current
	}
	if f.LT {
		return current == -1 || target < current
	}
	return true
}
