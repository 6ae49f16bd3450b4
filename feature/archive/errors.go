package archive

import (
	"errors"
	"fmt"
)

// IngestReason classifies archive ingest rejections.
type IngestReason string

const (
	// MalformedArchive is a payload that is not a readable zip.
	MalformedArchive IngestReason = "malformed-archive"
	// MissingDescriptor is an archive without any recognized descriptor.
	MissingDescriptor IngestReason = "missing-descriptor"
	// AmbiguousDescriptor is an archive with more than one recognized
	// descriptor. Never resolved by guessing.
	AmbiguousDescriptor IngestReason = "ambiguous-descriptor"
	// ArchiveTooLarge is an archive exceeding the configured size bounds.
	ArchiveTooLarge IngestReason = "archive-too-large"
	// PathTraversal is an archive with an entry escaping its root.
	PathTraversal IngestReason = "path-traversal"
)

// IngestError is the typed rejection of an uploaded archive.
type IngestError struct {
	Reason IngestReason
	Detail string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("archive rejected (%s): %s", e.Reason, e.Detail)
}

// AsIngestError unwraps err into an IngestError if possible.
func AsIngestError(err error) (*IngestError, bool) {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func reject(reason IngestReason, format string, args ...any) error {
	return &IngestError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
