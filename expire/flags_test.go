package expire_test

import (
	"testing"

	"github.com/halcyonkv/halcyon/expire"
)

func TestParseFlagsCompatibility(t *testing.T) {
	if _, err := expire.ParseFlags([]string{"GT", "LT"}); err != expire.ErrGTAndLT {
		t.Fatalf("GT+LT error = %v, want ErrGTAndLT", err)
	}
	for _, other := range []string{"XX", "GT", "LT"} {
		if _, err := expire.ParseFlags([]string{"NX", other}); err != expire.ErrNXCombined {
			t.Fatalf("NX+%s error = %v, want ErrNXCombined", other, err)
		}
	}
	if _, err := expire.ParseFlags([]string{"bogus"}); err != expire.ErrUnknownFlag {
		t.Fatalf("unknown flag error = %v, want ErrUnknownFlag", err)
	}

	f, err := expire.ParseFlags([]string{"xx", "gt"})
	if err != nil {
		t.Fatalf("XX GT error = %v", err)
	}
	if !f.XX || !f.GT {
		t.Fatalf("parsed flags = %+v", f)
	}
}

func TestFlagsAllows(t *testing.T) {
	tests := []struct {
		name    string
		flags   expire.Flags
		current int64
		target  int64
		want    bool
	}{
		{"missing key never accepts", expire.Flags{}, -2, 100, false},
		{"no flags always accepts", expire.Flags{}, -1, 100, true},
		{"NX needs no current expiry", expire.Flags{NX: true}, -1, 100, true},
		{"NX rejects with current expiry", expire.Flags{NX: true}, 50, 100, false},
		{"XX needs current expiry", expire.Flags{XX: true}, 50, 100, true},
		{"XX rejects without expiry", expire.Flags{XX: true}, -1, 100, false},
		{"GT needs later target", expire.Flags{GT: true}, 50, 100, true},
		{"GT rejects earlier target", expire.Flags{GT: true}, 100, 50, false},
		{"GT rejects equal target", expire.Flags{GT: true}, 100, 100, false},
		{"GT treats no expiry as infinite", expire.Flags{GT: true}, -1, 100, false},
		{"LT needs earlier target", expire.Flags{LT: true}, 100, 50, true},
		{"LT rejects later target", expire.Flags{LT: true}, 50, 100, false},
		{"LT accepts against no expiry", expire.Flags{LT: true}, -1, 100, true},
		{"XX GT both must hold", expire.Flags{XX: true, GT: true}, 50, 100, true},
		{"XX GT rejects no expiry", expire.Flags{XX: true, GT: true}, -1, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.flags.Allows(tt.current, tt.target); got != tt.want {
				t.Errorf("Allows(%d, %d) = %v, want %v", tt.current, tt.target, got, tt.want)
			}
		})
	}
}
