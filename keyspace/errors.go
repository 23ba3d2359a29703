package keyspace

import "errors"

var (
	// ErrWrongType signals a verb applied against a value of another kind.
	// No mutation happens when it is returned.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

	// ErrNoSuchKey signals an operation that requires an existing key
	ErrNoSuchKey = errors.New("no such key")

	// ErrNotInteger signals a string that cannot be used as an integer
	ErrNotInteger = errors.New("value is not an integer or out of range")

	// ErrNotFloat signals a string that cannot be used as a float
	ErrNotFloat = errors.New("value is not a valid float")

	// ErrNanResult signals an increment that would produce NaN or infinity
	ErrNanResult = errors.New("increment would produce NaN or Infinity")

	// ErrIndexOutOfRange signals LSET against a missing index
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrStreamIDTooSmall signals an XADD id not greater than the last one
	ErrStreamIDTooSmall = errors.New("The ID specified in XADD is equal or smaller than the target stream top item")

	// ErrInvalidStreamID signals an unparsable stream entry id
	ErrInvalidStreamID = errors.New("Invalid stream ID specified as stream command argument")

	// ErrGroupExists signals XGROUP CREATE on an existing group
	ErrGroupExists = errors.New("BUSYGROUP Consumer Group name already exists")

	// ErrNoGroup signals a consumer-group operation on a missing group
	ErrNoGroup = errors.New("NOGROUP No such consumer group")
)
