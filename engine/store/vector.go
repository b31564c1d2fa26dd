package store

import (
	"fmt"
	"strconv"
	"strings"
)

// vectorLiteral renders a []float32 as pgvector's textual wire format,
// e.g. "[0.1,0.2,0.3]". No third-party pgvector driver exists in the
// example pack (see DESIGN.md), so the codec is hand-written here; pgx
// sends it as a plain string parameter cast with ::vector in the query.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector parses pgvector's textual output format back into a
// []float32.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("store: parse vector component %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
