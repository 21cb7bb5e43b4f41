package markdown

// Edit is one replaced span, in byte offsets of the original and generated text.
type Edit struct {
	OriginalStart  int `json:"original_start"`
	OriginalEnd    int `json:"original_end"`
	GeneratedStart int `json:"generated_start"`
	GeneratedEnd   int `json:"generated_end"`
}

// Mapping relates generated offsets to original ones. Prefix bytes were prepended and have
// no original position.
type Mapping struct {
	Prefix int    `json:"prefix"`
	Edits  []Edit `json:"edits"`
}

// OriginalOffset maps a generated byte offset back to the original text. Offsets inside a
// replacement map to the start of the replaced tag; offsets inside the prefix report false.
func (m *Mapping) OriginalOffset(generated int) (int, bool) {
	if m == nil {
		return generated, generated >= 0
	}
	if generated < m.Prefix {
		return 0, false
	}
	delta := m.Prefix
	for _, e := range m.Edits {
		if generated < e.GeneratedStart {
			break
		}
		if generated < e.GeneratedEnd {
			return e.OriginalStart, true
		}
		delta = e.GeneratedEnd - e.OriginalEnd
	}
	return generated - delta, true
}
