package resp

import "bytes"

// Key extracts the routing key for a parsed command frame: the
// second bulk string of the array. ok is false for keyless commands
// (empty array, or an array with fewer than two elements).
//
// This always treats Array[1] as the key, EVAL/EVALSHA included: for
// those (script numkeys key [key ...]) it returns the script body or SHA,
// not the key at Array[3], so they route on that argument.
func (f Frame) Key() (key []byte, ok bool) {
	if f.Kind != Array || len(f.Array) < 2 {
		return nil, false
	}
	return f.Array[1], true
}

// Command returns the uppercased command name (the array's first element),
// or "" if the frame has no elements.
func (f Frame) Command() string {
	if f.Kind != Array || len(f.Array) == 0 || f.Array[0] == nil {
		return ""
	}
	return upper(f.Array[0])
}

func upper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// HashTagSubstring applies the two-character hash-tag rule: find the first
// occurrence of tag[0], then the first occurrence of tag[1] strictly after
// it; the bytes strictly between them — which may be empty — become the
// hash key. A single delimiter (tag[1] never found after tag[0]) falls
// back to hashing the whole key unchanged. Note this means two keys that
// both produce an *empty* substring (e.g. adjacent delimiters, or a
// delimiter pair wrapping nothing) hash identically even though their full
// keys differ — this is the original behavior, not a bug.
func HashTagSubstring(key []byte, tag string) []byte {
	if len(tag) != 2 {
		return key
	}
	open, closeCh := tag[0], tag[1]
	start := bytes.IndexByte(key, open)
	if start < 0 || start+1 >= len(key) {
		return key
	}
	end := bytes.IndexByte(key[start+1:], closeCh)
	if end < 0 {
		return key
	}
	end += start + 1
	return key[start+1 : end]
}
