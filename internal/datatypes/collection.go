package datatypes

// Vector index collection names, one per similarity memory plus file-path indexing.
const (
	CollectionClassifications = "classifications"
	CollectionHealingPatterns = "healing_patterns"
	CollectionTestSignatures  = "test_signatures"
	CollectionFileSnapshots   = "file_snapshots"
)

// GetAllCollections returns every collection the healer writes to.
func GetAllCollections() []string {
	return []string{
		CollectionClassifications,
		CollectionHealingPatterns,
		CollectionTestSignatures,
		CollectionFileSnapshots,
	}
}

// IsValidCollection reports whether name is a known collection.
func IsValidCollection(name string) bool {
	for _, c := range GetAllCollections() {
		if c == name {
			return true
		}
	}

	return false
}
