// Package attachcodec implements the line-oriented encodings the `attach`
// CLI command exchanges over stdout/stdin: one JSON document per line, or
// a 3-field CSV line (pos, old_len, new_str) using backslash-escaping
// instead of doubled quotes, matching the encoding the original
// implementation's csv writer/reader produced with double_quote(false)
// and escape('\\').
package attachcodec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/collab-daemon/collabd/internal/wire"
)

// Mode selects the line encoding attach reads and writes.
type Mode int

const (
	ModeJSON Mode = iota
	ModeCSV
)

// Encode renders bd as one line in the given mode (no trailing newline).
func Encode(mode Mode, bd wire.BufferDiff) (string, error) {
	switch mode {
	case ModeJSON:
		return encodeJSON(bd)
	case ModeCSV:
		return encodeCSV(bd), nil
	default:
		return "", fmt.Errorf("attachcodec: unknown mode %v", mode)
	}
}

// Decode parses one line in the given mode.
func Decode(mode Mode, line string) (wire.BufferDiff, error) {
	switch mode {
	case ModeJSON:
		return decodeJSON(line)
	case ModeCSV:
		return decodeCSV(line)
	default:
		return wire.BufferDiff{}, fmt.Errorf("attachcodec: unknown mode %v", mode)
	}
}

func needsQuoting(s string) bool {
	return strings.ContainsAny(s, ",\"\n\r")
}

func encodeField(s string) string {
	if !needsQuoting(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// encodeCSV renders bd as pos,old_len,new_str with new_str quoted (and
// backslash-escaped internally) only when it contains a comma, quote, or
// newline.
func encodeCSV(bd wire.BufferDiff) string {
	return strings.Join([]string{
		strconv.FormatUint(uint64(bd.Pos), 10),
		strconv.FormatUint(uint64(bd.OldLen), 10),
		encodeField(bd.NewStr),
	}, ",")
}

// decodeCSV parses a line produced by encodeCSV (or by the original
// implementation's csv writer, which uses the same escaping).
func decodeCSV(line string) (wire.BufferDiff, error) {
	fields, err := splitFields(line)
	if err != nil {
		return wire.BufferDiff{}, err
	}
	if len(fields) != 3 {
		return wire.BufferDiff{}, fmt.Errorf("attachcodec: expected 3 CSV fields, got %d", len(fields))
	}
	pos, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return wire.BufferDiff{}, fmt.Errorf("attachcodec: parse pos: %w", err)
	}
	oldLen, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return wire.BufferDiff{}, fmt.Errorf("attachcodec: parse old_len: %w", err)
	}
	return wire.BufferDiff{Pos: uint32(pos), OldLen: uint32(oldLen), NewStr: fields[2]}, nil
}

// splitFields tokenizes one CSV line honoring double-quoted fields with
// backslash-escaped quote and backslash characters.
func splitFields(line string) ([]string, error) {
	var fields []string
	i, n := 0, len(line)
	for {
		var field strings.Builder
		if i < n && line[i] == '"' {
			i++
			closed := false
			for i < n {
				c := line[i]
				if c == '\\' && i+1 < n {
					field.WriteByte(line[i+1])
					i += 2
					continue
				}
				if c == '"' {
					i++
					closed = true
					break
				}
				field.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("attachcodec: unterminated quoted field")
			}
		} else {
			for i < n && line[i] != ',' {
				field.WriteByte(line[i])
				i++
			}
		}
		fields = append(fields, field.String())
		if i < n && line[i] == ',' {
			i++
			continue
		}
		break
	}
	return fields, nil
}

func encodeJSON(bd wire.BufferDiff) (string, error) {
	data, err := json.Marshal(bd)
	if err != nil {
		return "", wire.Wrap(wire.KindSerialization, "attachcodec.encodeJSON", err)
	}
	return string(data), nil
}

func decodeJSON(line string) (wire.BufferDiff, error) {
	var bd wire.BufferDiff
	if err := json.Unmarshal([]byte(line), &bd); err != nil {
		return wire.BufferDiff{}, wire.Wrap(wire.KindDecode, "attachcodec.decodeJSON", err)
	}
	return bd, nil
}
