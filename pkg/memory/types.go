package memory

import "time"

// Memory is a stored fact as returned to callers.
type Memory struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Content          string     `json:"content"`
	Keywords         []string   `json:"keywords"`
	Category         string     `json:"category"`
	Importance       float64    `json:"importance_score"`
	AccessCount      int64      `json:"access_count"`
	CreatedAt        time.Time  `json:"created_at"`
	LastAccessed     time.Time  `json:"last_accessed"`
	ContentHash      string     `json:"content_hash"`
	SimHash          string     `json:"simhash64,omitempty"`
	EmbeddingVersion int        `json:"embedding_version"`
	TTLSeconds       *int64     `json:"ttl_seconds,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	Sensitive        bool       `json:"pii_flag"`
	Source           string     `json:"source"`
}

// NewRecord holds everything the store needs to insert a record.
type NewRecord struct {
	UserID           string
	Content          string
	Keywords         []string
	Category         string
	Importance       float64
	ContentHash      string
	SimHash          string
	EmbeddingVersion int
	TTLSeconds       *int64
	Sensitive        bool
	Source           string
}

// ContentUpdate replaces the derived fields of an existing record.
type ContentUpdate struct {
	Content          string
	Keywords         []string
	Category         string
	ContentHash      string
	SimHash          string
	EmbeddingVersion int
	Sensitive        bool
}

// RecordRef identifies a record together with its owner.
type RecordRef struct {
	ID     string
	UserID string
}

// RecordMeta is the subset of a record used for rescoring.
type RecordMeta struct {
	CreatedAt   time.Time
	AccessCount int64
	Importance  float64
}

// Hit is a single ranked search result.
type Hit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// StoreStats summarizes the store for health reporting.
type StoreStats struct {
	Count          int64
	EmbeddingCount int64
	SizeMB         float64
}

// Default values used when a record is created without them.
const (
	DefaultImportance       = 1.0
	DefaultSource           = "user"
	DefaultEmbeddingVersion = 1
)
