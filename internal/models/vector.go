// Package models holds the healer's records and reports.
package models

// IndexedRecord is one entry of a vector index collection.
type IndexedRecord struct {
	ID         string    `json:"id"`
	Collection string    `json:"collection"`
	Text       string    `json:"text"`
	Metadata   Metadata  `json:"metadata"`
	Embedding  []float32 `json:"-"`
}

// SimilarityMatch is a record returned by a similarity query with its score in [0,1].
type SimilarityMatch struct {
	Record     IndexedRecord `json:"record"`
	Similarity float64       `json:"similarity"`
}

// CollectionStats reports the size of one collection.
type CollectionStats struct {
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// RecordUpdate changes an existing record. Nil Text keeps the text and embedding;
// Metadata keys are merged into the stored metadata.
type RecordUpdate struct {
	Text      *string
	Embedding []float32
	Metadata  Metadata
}
