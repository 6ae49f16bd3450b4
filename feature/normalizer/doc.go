// Package normalizer converts game-specific XML dialects into canonical
// records.
//
// It understands three document kinds: mod descriptors (modDesc.xml),
// savegame descriptors (careerSavegame.xml) and map configuration files.
// Normalization is a pure function of the input bytes and kind, which makes
// it independently testable and safe to call from both the ModHub scraper
// and the archive ingest path.
//
// # Tolerance rules
//
//   - Unknown extra elements are ignored.
//   - Missing optional fields become explicit Unknown sentinels, never
//     implicit defaults.
//   - Input without an XML declaration, or with a non-UTF8 declared
//     charset, is decoded as Latin-1.
//   - Malformed nesting, a wrong root element or a missing required field
//     fails with MalformedStructure; a present field with an unparseable
//     value fails with FieldTypeMismatch naming the field.
//
// Numeric and date fields retain the upstream literal next to the parsed
// value for diagnostics.
package normalizer
