package archive

// Config holds configuration for the archive ingest.
type Config struct {
	// Enabled toggles the upload routes.
	Enabled bool `mapstructure:"enabled" default:"true"`
	// MaxArchiveBytes bounds the accepted archive size. 512 MiB.
	MaxArchiveBytes int64 `mapstructure:"max_archive_bytes" default:"536870912"`
	// MaxEntries bounds the number of entries in one archive.
	MaxEntries int `mapstructure:"max_entries" default:"4096"`
	// MaxEntryBytes bounds the declared uncompressed size of one entry.
	// Guards against decompression bombs. 256 MiB.
	MaxEntryBytes int64 `mapstructure:"max_entry_bytes" default:"268435456"`
	// StagingPrefix is where payloads are parked before reconciliation.
	StagingPrefix string `mapstructure:"staging_prefix" default:"staging"`
	// PayloadPrefix is the final content-addressed location.
	PayloadPrefix string `mapstructure:"payload_prefix" default:"payloads"`
	// StagingTTLMinutes is how long a staged payload may linger before the
	// sweeper collects it.
	StagingTTLMinutes int `mapstructure:"staging_ttl_minutes" default:"60"`
	// FailureLimit caps the failures echoed back in ingest responses.
	FailureLimit int `mapstructure:"failure_limit" default:"25"`
	// SweepSchedule is an optional cron spec for the staging sweep.
	SweepSchedule string `mapstructure:"sweep_schedule" default:"*/30 * * * *"`
}
