package model

import "time"

// ImageRecord is a stored processing result. Records are written once on the
// first successful processing of a given input hash and never mutated, apart
// from metadata merges through the API.
type ImageRecord struct {
	ID             int64     `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	InputFilename  string    `json:"input_filename"`
	OutputFilename string    `json:"output_filename"`
	Metadata       []byte    `json:"-"` // JSON document
	InputImage     []byte    `json:"-"`
	OutputImage    []byte    `json:"-"`
	Hash           string    `json:"hash"`
}
