package models

import (
	"strings"
)

// TestSignature is the stored value of a test-duplicate index record.
type TestSignature struct {
	TestName  string
	Category  string
	FilePath  string
	Verbs     []string
	Endpoints []string
}

// Metadata keys for test signatures.
const (
	MetaCategory  = "category"
	MetaFilePath  = "file_path"
	MetaVerbs     = "http_verbs"
	MetaEndpoints = "endpoints"
)

// ToMetadata serializes the signature; verb and endpoint lists are joined so metadata stays scalar.
func (s TestSignature) ToMetadata() Metadata {
	return Metadata{
		MetaTestName:  s.TestName,
		MetaCategory:  s.Category,
		MetaFilePath:  s.FilePath,
		MetaVerbs:     strings.Join(s.Verbs, ","),
		MetaEndpoints: strings.Join(s.Endpoints, ","),
	}
}

// TestSignatureFromMetadata parses a stored signature.
func TestSignatureFromMetadata(m Metadata) TestSignature {
	return TestSignature{
		TestName:  m.String(MetaTestName),
		Category:  m.String(MetaCategory),
		FilePath:  m.String(MetaFilePath),
		Verbs:     splitList(m.String(MetaVerbs)),
		Endpoints: splitList(m.String(MetaEndpoints)),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	return strings.Split(s, ",")
}

// DuplicateMatch names a test that was dropped and the stored test it duplicates.
type DuplicateMatch struct {
	TestName      string  `json:"test_name"`
	DuplicateOf   string  `json:"duplicate_of"`
	DuplicateFile string  `json:"duplicate_file,omitempty"`
	Similarity    float64 `json:"similarity"`
}

// DedupResult is the outcome of deduplicating one test file.
type DedupResult struct {
	KeptCode      string           `json:"-"`
	OriginalCount int              `json:"original_count"`
	RemovedCount  int              `json:"removed_count"`
	Removed       []DuplicateMatch `json:"removed,omitempty"`
}
