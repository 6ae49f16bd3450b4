package reconcile

import (
	"time"

	"gorm.io/gorm"
)

// Run statuses. A run is "running" from creation until finalized.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ModEntry is one upstream-listed mod, upserted on its slug.
type ModEntry struct {
	ID   uint   `gorm:"primaryKey"`
	Slug string `gorm:"size:191;not null;uniqueIndex"`

	Title    string `gorm:"size:512"`
	Author   string `gorm:"size:255"`
	Version  string `gorm:"size:64"`
	Category string `gorm:"size:128"`

	DownloadURL string `gorm:"type:text"`
	Released    string `gorm:"size:32"`
	SizeBytes   int64
	// Checksum is the sha256 of the mod archive, set when the crawl
	// downloaded it for descriptor enrichment.
	Checksum string `gorm:"size:64"`

	// UpstreamUpdatedAt orders competing writes for the same slug. An
	// incoming record older than this column is a conflict, never applied.
	UpstreamUpdatedAt time.Time `gorm:"index"`

	Source string `gorm:"size:32"`
	// Delisted marks entries that vanished from the upstream listing.
	// The row is kept; deletion would lose the observed history.
	Delisted bool `gorm:"not null;default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Descriptor is one ingested archive descriptor, content-addressed by
// owner and canonical payload hash.
type Descriptor struct {
	ID          uint   `gorm:"primaryKey"`
	OwnerRef    string `gorm:"size:191;not null;uniqueIndex:idx_descriptor_owner_hash"`
	ContentHash string `gorm:"size:64;not null;uniqueIndex:idx_descriptor_owner_hash;index"`

	Kind    string `gorm:"size:32;not null"`
	Title   string `gorm:"size:512"`
	Author  string `gorm:"size:255"`
	Version string `gorm:"size:64"`

	MapName      string `gorm:"size:255"`
	SavegameName string `gorm:"size:255"`
	IngameDate   string `gorm:"size:32"`
	Money        int64
	PlayTime     string `gorm:"size:32"`
	// DependencyList is the JSON-encoded mod dependency slice of savegame
	// descriptors.
	DependencyList string `gorm:"type:text"`

	// PayloadKey is the final content-addressed object key, set once the
	// staged payload has been promoted.
	PayloadKey  string `gorm:"size:255"`
	PayloadSize int64

	// PreviousID chains to the descriptor this upload superseded for the
	// same owner and kind.
	PreviousID *uint `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IngestRun is the audit record of one reconciliation pass.
type IngestRun struct {
	RunID  string `gorm:"primaryKey;size:36"`
	Source string `gorm:"size:32;not null"`
	Status string `gorm:"size:16;not null"`

	Created   int
	Updated   int
	Unchanged int
	Conflicts int
	Failed    int

	FirstError string `gorm:"type:text"`

	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
}

// IngestFailure is one record or page a run could not process.
type IngestFailure struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"size:36;index;not null"`
	Key    string `gorm:"size:255"`
	Reason string `gorm:"type:text"`

	CreatedAt time.Time
}

// Migrate creates or updates the reconciliation schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ModEntry{}, &Descriptor{}, &IngestRun{}, &IngestFailure{})
}
