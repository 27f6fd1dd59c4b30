package memory

// CompactLines drops near-duplicate entries from a line set, preserving the
// first occurrence. Similarity is Jaccard over token sets; threshold 0.7 by
// default. Brute-force pairwise comparison keeps results deterministic.
func CompactLines(lines []string, threshold float64) []string {
	if threshold <= 0 {
		threshold = 0.7
	}

	kept := make([]string, 0, len(lines))
	keptSets := make([]map[string]bool, 0, len(lines))

	for _, line := range lines {
		set := tokenSet(line)
		dup := false
		for _, prior := range keptSets {
			if jaccard(set, prior) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, line)
			keptSets = append(keptSets, set)
		}
	}
	return kept
}

// CompactMemory rewrites MEMORY.md with near-duplicate lines removed and
// returns how many were dropped.
func (m *Manager) CompactMemory(threshold float64) (int, error) {
	lines := nonBlankLines(m.ReadMemory())
	kept := CompactLines(lines, threshold)
	dropped := len(lines) - len(kept)
	if dropped == 0 {
		return 0, nil
	}
	var content string
	for _, line := range kept {
		content += line + "\n"
	}
	if err := m.WriteMemory(content); err != nil {
		return 0, err
	}
	m.logger.Info("compacted memory", "dropped", dropped, "kept", len(kept))
	return dropped, nil
}

func tokenSet(line string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range Tokenize(line) {
		set[tok] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
