package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateContent is returned when a live record already has the same content hash.
	ErrDuplicateContent = errors.New("duplicate content")
	// ErrNotFound is returned when a record does not exist or is soft-deleted.
	ErrNotFound = errors.New("memory not found")
	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStoreUnavailable is returned when the database cannot be opened or initialized.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IndexDesyncError reports live records whose lexical or vector entries are missing,
// and index entries that no longer have a record.
type IndexDesyncError struct {
	MissingLexical []int64
	MissingVector  []int64
	OrphanLexical  []int64
	OrphanVector   []int64
}

func (e *IndexDesyncError) Error() string {
	return fmt.Sprintf("index desync: %d missing lexical, %d missing vector, %d orphan lexical, %d orphan vector",
		len(e.MissingLexical), len(e.MissingVector), len(e.OrphanLexical), len(e.OrphanVector))
}

// Empty reports whether the indexes are in sync.
func (e *IndexDesyncError) Empty() bool {
	return len(e.MissingLexical) == 0 && len(e.MissingVector) == 0 &&
		len(e.OrphanLexical) == 0 && len(e.OrphanVector) == 0
}
