package normalizer

import "time"

// SchemaKind identifies which XML dialect a document is expected to follow.
type SchemaKind string

const (
	// KindModDescriptor is a modDesc.xml document.
	KindModDescriptor SchemaKind = "mod-descriptor"
	// KindSavegameDescriptor is a careerSavegame.xml document.
	KindSavegameDescriptor SchemaKind = "savegame-descriptor"
	// KindMapDescriptor is a map configuration document.
	KindMapDescriptor SchemaKind = "map-descriptor"
)

// Unknown is the sentinel value for optional fields absent from the input.
// It is deliberately not a valid upstream value so it can never be mistaken
// for real data.
const Unknown = "<unknown>"

// Field is a normalized string field. Value holds the canonical form,
// Literal the exact upstream formatting for diagnostics.
type Field struct {
	Value   string `json:"value"`
	Literal string `json:"literal,omitempty"`
	Known   bool   `json:"known"`
}

// NumberField is a normalized numeric field with its upstream literal.
type NumberField struct {
	Value   int64  `json:"value"`
	Literal string `json:"literal,omitempty"`
	Known   bool   `json:"known"`
}

// UnknownField returns the sentinel for an absent optional field.
func UnknownField() Field {
	return Field{Value: Unknown}
}

// KnownField builds a field whose canonical value equals its literal.
func KnownField(literal string) Field {
	return Field{Value: literal, Literal: literal, Known: true}
}

// ModDependency is one mod reference inside a savegame descriptor.
type ModDependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// CanonicalRecord is the normalized, schema-validated in-memory form of a
// descriptor. The scraper and the archive ingest both produce it, and the
// reconciler consumes it.
type CanonicalRecord struct {
	Kind SchemaKind `json:"kind"`

	// Slug is the upstream stable identifier. Set by the scraper for mod
	// entries; empty for uploaded descriptors.
	Slug string `json:"slug,omitempty"`

	// OwnerRef and ContentHash form the natural key of uploaded
	// descriptors. Both are set by the archive ingest, never parsed from
	// the document.
	OwnerRef    string `json:"owner_ref,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`

	Title   Field `json:"title"`
	Author  Field `json:"author"`
	Version Field `json:"version"`

	// Scrape-side metadata.
	Category          Field       `json:"category"`
	DownloadURL       Field       `json:"download_url"`
	Released          Field       `json:"released"`
	Size              NumberField `json:"size"`
	Checksum          string      `json:"checksum,omitempty"`
	UpstreamUpdatedAt time.Time   `json:"upstream_updated_at,omitzero"`

	// Savegame / map state.
	MapName      Field           `json:"map_name"`
	SavegameName Field           `json:"savegame_name"`
	IngameDate   Field           `json:"ingame_date"`
	Money        NumberField     `json:"money"`
	PlayTime     Field           `json:"play_time"`
	Dependencies []ModDependency `json:"dependencies,omitempty"`

	// Payload reference material set by the archive ingest when binary
	// bytes were staged alongside the descriptor.
	PayloadStagingKey string `json:"payload_staging_key,omitempty"`
	PayloadSize       int64  `json:"payload_size,omitempty"`
}

// NaturalKey returns the business key the reconciler upserts on.
func (r *CanonicalRecord) NaturalKey() string {
	if r.Slug != "" {
		return r.Slug
	}
	return r.OwnerRef + "/" + r.ContentHash
}
