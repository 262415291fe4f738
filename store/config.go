package store

// Config holds configuration for the Template.
// Fields carry env tags so callers can load them with caarlos0/env under a prefix.
type Config struct {
	// Namespace prefixes every table name: "namespace.set".
	// Default: "" (tables are named after their set)
	Namespace string `env:"NAMESPACE"`

	// KeyAttribute is the partition key attribute holding the record id.
	// Default: "pk"
	KeyAttribute string `env:"KEY_ATTRIBUTE" envDefault:"pk"`

	// GenerationAttribute counts writes to a record.
	// Default: "gen"
	GenerationAttribute string `env:"GENERATION_ATTRIBUTE" envDefault:"gen"`

	// ExpirationAttribute is the table's TTL attribute (epoch seconds).
	// Default: "ttl"
	ExpirationAttribute string `env:"EXPIRATION_ATTRIBUTE" envDefault:"ttl"`

	// DefaultExpiration applies to documents that do not set their own, in seconds.
	// Default: 0 (never expire)
	DefaultExpiration int32 `env:"DEFAULT_EXPIRATION"`

	// ConsistentReads requests strongly consistent gets and scans.
	ConsistentReads bool `env:"CONSISTENT_READS"`

	// ScanPageSize caps items evaluated per scan page.
	// Default: 0 (DynamoDB's 1 MB page limit only)
	// Max: 10,000
	ScanPageSize int32 `env:"SCAN_PAGE_SIZE"`

	// BatchMaxRounds bounds how often unprocessed batch-get keys are resubmitted.
	// Default: 8
	// Max: 32
	BatchMaxRounds int `env:"BATCH_MAX_ROUNDS" envDefault:"8"`

	// ReadConcurrency bounds concurrent batch-get chunks.
	// Default: 4
	// Max: 64
	ReadConcurrency int `env:"READ_CONCURRENCY" envDefault:"4"`

	// WriteConcurrency bounds concurrent writes in InsertAll and SaveAll.
	// Default: 8
	// Max: 64
	WriteConcurrency int `env:"WRITE_CONCURRENCY" envDefault:"8"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyAttribute:        "pk",
		GenerationAttribute: "gen",
		ExpirationAttribute: "ttl",
		BatchMaxRounds:      8,
		ReadConcurrency:     4,
		WriteConcurrency:    8,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.KeyAttribute == "" {
		c.KeyAttribute = "pk"
	}
	if c.GenerationAttribute == "" {
		c.GenerationAttribute = "gen"
	}
	if c.ExpirationAttribute == "" {
		c.ExpirationAttribute = "ttl"
	}
	if c.DefaultExpiration < -1 {
		c.DefaultExpiration = -1
	}
	if c.ScanPageSize < 0 {
		c.ScanPageSize = 0
	}
	if c.ScanPageSize > 10000 {
		c.ScanPageSize = 10000
	}
	c.BatchMaxRounds = clamp(c.BatchMaxRounds, 8, 32)
	c.ReadConcurrency = clamp(c.ReadConcurrency, 4, 64)
	c.WriteConcurrency = clamp(c.WriteConcurrency, 8, 64)
}

func clamp(v, def, max int) int {
	if v < 1 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
