package keyspace

// Limits configures the compact-to-generic conversion thresholds for the
// composite encodings. The first insertion whose resulting cardinality or
// element size crosses a threshold converts the value irreversibly.
type Limits struct {
	HashMaxListpackEntries int
	HashMaxListpackValue   int
	ListMaxListpackEntries int
	ListMaxListpackValue   int
	SetMaxIntsetEntries    int
	SetMaxListpackEntries  int
	SetMaxListpackValue    int
	ZSetMaxListpackEntries int
	ZSetMaxListpackValue   int
}

// DefaultLimits mirrors the reference server's default thresholds
var DefaultLimits = Limits{
	HashMaxListpackEntries: 128,
	HashMaxListpackValue:   64,
	ListMaxListpackEntries: 128,
	ListMaxListpackValue:   64,
	SetMaxIntsetEntries:    512,
	SetMaxListpackEntries:  128,
	SetMaxListpackValue:    64,
	ZSetMaxListpackEntries: 128,
	ZSetMaxListpackValue:   64,
}
