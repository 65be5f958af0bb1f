package frontend

import (
	"github.com/compozy/redishard/internal/resp"
)

// unsupportedCommands lists command names rejected outright. This proxy never configures the multi-key exception, so
// the multi-key commands themselves are listed here too.
var unsupportedCommands = map[string]bool{
	"MULTI":        true,
	"EXEC":         true,
	"DISCARD":      true,
	"WATCH":        true,
	"UNWATCH":      true,
	"SUBSCRIBE":    true,
	"UNSUBSCRIBE":  true,
	"PSUBSCRIBE":   true,
	"PUNSUBSCRIBE": true,
	"MGET":         true,
	"MSET":         true,
	"MSETNX":       true,
}

// Validate classifies a parsed client command frame. It returns a non-nil
// synthetic error reply when the command must be rejected without ever
// reaching a backend.
func Validate(frame resp.Frame) []byte {
	cmd := frame.Command()
	if cmd == "" {
		return resp.InvalidProtocol
	}
	if unsupportedCommands[cmd] {
		return resp.UnsupportedCommand
	}
	if cmd == "EVAL" || cmd == "EVALSHA" {
		return validateEval(frame)
	}
	return nil
}

// validateEval enforces `EVAL script numkeys key arg...` with numkeys == 1.
// It only checks numkeys; it does not change routing. Frame.Key() still
// returns Array[1] (the script body), so a validated EVAL routes on the
// script rather than the key at Array[3].
func validateEval(frame resp.Frame) []byte {
	if len(frame.Array) < 3 {
		return resp.InvalidProtocol
	}
	numkeys, ok := parseASCIIInt(frame.Array[2])
	if !ok || numkeys != 1 {
		return resp.ScriptsMustHaveOneKey
	}
	return nil
}

func parseASCIIInt(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
