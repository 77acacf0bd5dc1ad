package internal

// fnv1a32 hashes a string with the FNV-1a 32-bit function.
// Allocation-free, stable across restarts, safe for hot paths.
func fnv1a32(key string) uint32 {
	var hash uint32 = 2166136261
	for i := range len(key) {
		hash ^= uint32(key[i])
		hash *= 16777619
	}
	return hash
}

// ShardForKey deterministically maps a string key to a shard in [0, shardCount).
//
// shardCount must be > 0.
func ShardForKey(key string, shardCount int) int {
	if shardCount <= 0 {
		panic("shardCount must be > 0")
	}
	return int(fnv1a32(key) % uint32(shardCount))
}

// cursorPalette is the set of colors assigned to participant cursors.
// Presentation only; clients may override.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
}

// ColorForIdentity picks a deterministic cursor color for an identity.
// The same identity always renders with the same color on every client.
func ColorForIdentity(identity string) string {
	return cursorPalette[ShardForKey(identity, len(cursorPalette))]
}
