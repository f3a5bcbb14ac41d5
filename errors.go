package script

import "errors"

var (
	// ErrInvalidConfig is returned for invalid or incomplete configuration.
	ErrInvalidConfig = errors.New("script: invalid configuration")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("script: document not found")

	// ErrDownload is returned when the source PDF cannot be fetched
	// from blob storage.
	ErrDownload = errors.New("script: source download failed")

	// ErrTextExtraction is returned when no text could be extracted from
	// the source PDF. The pipeline cannot proceed without text.
	ErrTextExtraction = errors.New("script: text extraction failed")

	// ErrPersist is returned when persisting the structured document fails.
	// This is the only post-extraction failure that aborts an ingestion.
	ErrPersist = errors.New("script: persisting document failed")
)
