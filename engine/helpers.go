package engine

import (
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/halcyonkv/halcyon/keyspace"
	"github.com/halcyonkv/halcyon/protocol"
)

// errReply converts a handler error into the wire error form. Errors that
// already carry an upper-case code token keep it; everything else is a
// plain ERR.
func errReply(err error) protocol.Value {
	msg := err.Error()
	if hasErrCode(msg) {
		return protocol.Err(msg)
	}
	return protocol.Err("ERR " + msg)
}

func hasErrCode(msg string) bool {
	head, _, _ := strings.Cut(msg, " ")
	if head == "" {
		return false
	}
	for i := 0; i < len(head); i++ {
		if head[i] < 'A' || head[i] > 'Z' {
			return false
		}
	}
	return true
}

func wrongArity(name string) protocol.Value {
	return protocol.Err("ERR wrong number of arguments for '" + strings.ToLower(name) + "' command")
}

func unknownCommand(name string) protocol.Value {
	return protocol.Err("ERR unknown command '" + name + "'")
}

func syntaxError() protocol.Value {
	return protocol.Err("ERR syntax error")
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, keyspace.ErrNotInteger
	}
	return n, nil
}

func parseFloat(b []byte) (float64, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(f) {
		return 0, keyspace.ErrNotFloat
	}
	return f, nil
}

// parseScoreBound reads a ZRANGEBYSCORE endpoint: -inf, +inf, a score, or
// an exclusive (score
func parseScoreBound(b []byte) (keyspace.ScoreBound, error) {
	s := string(b)
	switch strings.ToLower(s) {
	case "-inf":
		return keyspace.ScoreBound{Inf: -1}, nil
	case "+inf", "inf":
		return keyspace.ScoreBound{Inf: 1}, nil
	}
	var bound keyspace.ScoreBound
	if strings.HasPrefix(s, "(") {
		bound.Exclusive = true
		s = s[1:]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return bound, errMinMaxNotFloat
	}
	bound.Value = f
	return bound, nil
}

var errMinMaxNotFloat = protocolError("min or max is not a float")

type protocolError string

func (e protocolError) Error() string { return string(e) }

func bulkOrNull(b []byte, ok bool) protocol.Value {
	if !ok {
		return protocol.Null()
	}
	return protocol.Bulk(b)
}

func stringArray(in []string) protocol.Value {
	return protocol.ArrayValue(lo.Map(in, func(s string, _ int) protocol.Value {
		return protocol.BulkString(s)
	})...)
}

func byteArray(in [][]byte) protocol.Value {
	return protocol.ArrayValue(lo.Map(in, func(b []byte, _ int) protocol.Value {
		if b == nil {
			return protocol.Null()
		}
		return protocol.Bulk(b)
	})...)
}

func formatScore(f float64) string {
	if f == math.Inf(1) {
		return "inf"
	}
	if f == math.Inf(-1) {
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', 17, 64)
}

// scanReply is the two-element cursor-and-items shape shared by the SCAN
// family
func scanReply(cursor uint64, items protocol.Value) protocol.Value {
	return protocol.ArrayValue(
		protocol.BulkString(strconv.FormatUint(cursor, 10)),
		items,
	)
}

func fieldValuePairs(fields []keyspace.FieldValue) protocol.Value {
	out := make([]protocol.Value, 0, len(fields)*2)
	for _, fv := range fields {
		out = append(out, protocol.BulkString(fv.Field), protocol.Bulk(fv.Value))
	}
	return protocol.ArrayValue(out...)
}

func streamEntriesReply(entries []keyspace.StreamEntry) protocol.Value {
	return protocol.ArrayValue(lo.Map(entries, func(e keyspace.StreamEntry, _ int) protocol.Value {
		return protocol.ArrayValue(
			protocol.BulkString(e.ID.String()),
			fieldValuePairs(e.Fields),
		)
	})...)
}

func upperArg(b []byte) string {
	return strings.ToUpper(string(b))
}
