// Package config provides configuration loading and management for roster-sync.
package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/roster-sync/internal/telemetry"
)

const (
	// DirectoryTypeGoogle is the Google Workspace Admin SDK directory
	DirectoryTypeGoogle = "google"

	// DirectoryTypeMemory is an in-process directory, useful for dry runs against fixtures
	DirectoryTypeMemory = "memory"
)

const (
	// StorageTypeFile keeps checkpoints, fingerprints and status on the local filesystem
	StorageTypeFile = "file"

	// StorageTypeDatabase keeps checkpoints, fingerprints and status in PostgreSQL
	StorageTypeDatabase = "database"
)

// EnvPrefix prefixes the environment variables bound to command line flags
const EnvPrefix = "ROSTER_SYNC"

// Defaults applied by the Get* accessors when a value is not configured.
const (
	DefaultGraceDays      = 7
	DefaultArchiveDays    = 365
	DefaultDeleteDays     = 1825
	DefaultBatchSize      = 200
	DefaultMaxBatchSize   = 1000
	DefaultQuota          = 5 * time.Minute
	DefaultReserve        = 30 * time.Second
	DefaultItemDelay      = 100 * time.Millisecond
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultMaxDelay       = 30 * time.Second
	DefaultLeaseTTL       = 15 * time.Minute
	DefaultDataDir        = "./data"
	DefaultExternalIDType = "organization"
	DefaultCustomerID     = "my_customer"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Domain is the directory domain that account and group addresses live under
	Domain string `yaml:"domain"`

	Roster       RosterConfig        `yaml:"roster"`
	Directory    DirectoryConfig     `yaml:"directory"`
	Lifecycle    LifecycleConfig     `yaml:"lifecycle,omitempty"`
	Batch        BatchConfig         `yaml:"batch,omitempty"`
	Retry        RetryConfig         `yaml:"retry,omitempty"`
	Groups       []GroupDefinition   `yaml:"groups,omitempty"`
	Storage      StorageConfig       `yaml:"storage,omitempty"`
	Database     *DatabaseConfig     `yaml:"database,omitempty"`
	Notification *NotificationConfig `yaml:"notification,omitempty"`
	Telemetry    *telemetry.Config   `yaml:"telemetry,omitempty"`
}

// RosterConfig defines where the roster is read from
type RosterConfig struct {
	// Directory holds the roster export files (members.csv, organizations.csv, ...)
	Directory string `yaml:"directory"`

	// OrgPaths maps organization IDs to directory org unit paths. Entries here
	// take precedence over the path column of the organizations export.
	OrgPaths map[int64]string `yaml:"orgPaths,omitempty"`
}

// DirectoryConfig selects and configures the target directory
type DirectoryConfig struct {
	Type   string        `yaml:"type"`
	Google *GoogleConfig `yaml:"google,omitempty"`
}

// GoogleConfig defines Google Workspace access via domain-wide delegation
type GoogleConfig struct {
	// CustomerID is the Workspace customer, "my_customer" by default
	CustomerID string `yaml:"customerId,omitempty"`

	// AdminSubject is the administrator the service account impersonates
	AdminSubject string `yaml:"adminSubject"`

	// CredentialsFile is the path to the service account key
	CredentialsFile string `yaml:"credentialsFile"`

	// ExternalIDType is the externalIds type that carries the roster member ID
	ExternalIDType string `yaml:"externalIdType,omitempty"`
}

// LifecycleConfig defines the account retirement thresholds.
// Pointers distinguish an explicit zero from an unset value.
type LifecycleConfig struct {
	GraceDays   *int `yaml:"graceDays,omitempty"`
	ArchiveDays *int `yaml:"archiveDays,omitempty"`
	DeleteDays  *int `yaml:"deleteDays,omitempty"`

	// DeleteEnabled opts in to ARCHIVED -> DELETED. Deletion additionally
	// requires an operator confirmation on the command line.
	DeleteEnabled bool `yaml:"deleteEnabled,omitempty"`
}

// BatchConfig defines the per-invocation budget of a batch job
type BatchConfig struct {
	// Quota is the wall-clock budget of one invocation (e.g. "5m")
	Quota string `yaml:"quota,omitempty"`

	// Reserve is kept free at the end of the quota so the last item is never cut off
	Reserve string `yaml:"reserve,omitempty"`

	// ItemDelay is the pause between two work items
	ItemDelay string `yaml:"itemDelay,omitempty"`

	// BatchSize caps the items processed per invocation
	BatchSize int `yaml:"batchSize,omitempty"`

	// MaxBatchSize is the hard upper bound for BatchSize
	MaxBatchSize int `yaml:"maxBatchSize,omitempty"`

	// LeaseTTL is how long a job lease is valid before another invocation may take it over
	LeaseTTL string `yaml:"leaseTTL,omitempty"`
}

// RetryConfig defines the retry policy for directory calls
type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	BaseDelay   string `yaml:"baseDelay,omitempty"`
	MaxDelay    string `yaml:"maxDelay,omitempty"`
}

// GroupDefinition declares a family of groups selected by one roster attribute
type GroupDefinition struct {
	// Category prefixes the group address (e.g. "duty")
	Category string `yaml:"category"`

	// BaseName is the group name within the category (e.g. "commanders")
	BaseName string `yaml:"baseName"`

	// Attribute is the name of a registered member predicate
	Attribute string `yaml:"attribute"`

	// Values are matched case-insensitively; "*" matches any non-empty value
	Values []string `yaml:"values"`
}

// StorageConfig selects where durable job state is kept
type StorageConfig struct {
	Type string             `yaml:"type,omitempty"`
	File *FileStorageConfig `yaml:"file,omitempty"`
}

// FileStorageConfig defines file-based storage settings
type FileStorageConfig struct {
	// DataDir is the base directory for checkpoints, fingerprints and status files
	DataDir string `yaml:"dataDir"`
}

// NotificationConfig defines where run reports are delivered
type NotificationConfig struct {
	AMQP *AMQPConfig `yaml:"amqp,omitempty"`
}

// AMQPConfig defines the exchange run reports are published to
type AMQPConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routingKey,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int32 `yaml:"maxIdleConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g., "1h", "30m")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// PasswordEnvVar is consulted when no password file is configured
const PasswordEnvVar = "ROSTER_SYNC_DATABASE_PASSWORD"

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from ROSTER_SYNC_DATABASE_PASSWORD environment variable
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(PasswordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", PasswordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML configuration document
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetGraceDays returns the suspension grace period in days
func (l LifecycleConfig) GetGraceDays() int {
	return intOrDefault(l.GraceDays, DefaultGraceDays)
}

// GetArchiveDays returns the archive threshold in days
func (l LifecycleConfig) GetArchiveDays() int {
	return intOrDefault(l.ArchiveDays, DefaultArchiveDays)
}

// GetDeleteDays returns the delete threshold in days
func (l LifecycleConfig) GetDeleteDays() int {
	return intOrDefault(l.DeleteDays, DefaultDeleteDays)
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetQuota returns the per-invocation wall-clock budget
func (b BatchConfig) GetQuota() time.Duration {
	return durationOrDefault(b.Quota, DefaultQuota)
}

// GetReserve returns the safety margin kept free at the end of the quota
func (b BatchConfig) GetReserve() time.Duration {
	return durationOrDefault(b.Reserve, DefaultReserve)
}

// GetItemDelay returns the pause between two work items
func (b BatchConfig) GetItemDelay() time.Duration {
	return durationOrDefault(b.ItemDelay, DefaultItemDelay)
}

// GetLeaseTTL returns how long a job lease is held
func (b BatchConfig) GetLeaseTTL() time.Duration {
	return durationOrDefault(b.LeaseTTL, DefaultLeaseTTL)
}

// GetMaxBatchSize returns the hard cap on items per invocation
func (b BatchConfig) GetMaxBatchSize() int {
	if b.MaxBatchSize <= 0 {
		return DefaultMaxBatchSize
	}
	return b.MaxBatchSize
}

// GetBatchSize returns the number of items processed per invocation,
// clamped to GetMaxBatchSize.
func (b BatchConfig) GetBatchSize() int {
	size := b.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return min(size, b.GetMaxBatchSize())
}

// GetMaxAttempts returns the number of attempts for a transient failure
func (r RetryConfig) GetMaxAttempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// GetBaseDelay returns the first retry delay
func (r RetryConfig) GetBaseDelay() time.Duration {
	return durationOrDefault(r.BaseDelay, DefaultBaseDelay)
}

// GetMaxDelay returns the ceiling for a single retry delay
func (r RetryConfig) GetMaxDelay() time.Duration {
	return durationOrDefault(r.MaxDelay, DefaultMaxDelay)
}

// durationOrDefault assumes the value was checked by validate
func durationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// GetStorageType returns the storage type, file by default
func (c *Config) GetStorageType() string {
	if c.Storage.Type == "" {
		return StorageTypeFile
	}
	return c.Storage.Type
}

// GetDataDir returns the base directory for file storage
func (c *Config) GetDataDir() string {
	if c.Storage.File == nil || c.Storage.File.DataDir == "" {
		return DefaultDataDir
	}
	return c.Storage.File.DataDir
}

// GetCustomerID returns the Workspace customer identifier
func (g *GoogleConfig) GetCustomerID() string {
	if g.CustomerID == "" {
		return DefaultCustomerID
	}
	return g.CustomerID
}

// GetExternalIDType returns the externalIds type carrying the roster member ID
func (g *GoogleConfig) GetExternalIDType() string {
	if g.ExternalIDType == "" {
		return DefaultExternalIDType
	}
	return g.ExternalIDType
}

func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if _, err := mail.ParseAddress("postmaster@" + c.Domain); err != nil {
		return fmt.Errorf("domain %q is not a valid mail domain", c.Domain)
	}

	if c.Roster.Directory == "" {
		return fmt.Errorf("roster.directory is required")
	}

	if err := c.validateDirectory(); err != nil {
		return err
	}
	if err := c.validateLifecycle(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateGroups(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}

	if c.Notification != nil && c.Notification.AMQP != nil {
		if c.Notification.AMQP.URL == "" {
			return fmt.Errorf("notification.amqp.url is required")
		}
		if c.Notification.AMQP.Exchange == "" {
			return fmt.Errorf("notification.amqp.exchange is required")
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (c *Config) validateDirectory() error {
	switch c.Directory.Type {
	case DirectoryTypeGoogle:
		g := c.Directory.Google
		if g == nil {
			return fmt.Errorf("directory.google is required when directory.type is %q", DirectoryTypeGoogle)
		}
		if g.AdminSubject == "" {
			return fmt.Errorf("directory.google.adminSubject is required")
		}
		if g.CredentialsFile == "" {
			return fmt.Errorf("directory.google.credentialsFile is required")
		}
	case DirectoryTypeMemory:
	case "":
		return fmt.Errorf("directory.type is required")
	default:
		return fmt.Errorf("directory.type %q is not supported (use %q or %q)",
			c.Directory.Type, DirectoryTypeGoogle, DirectoryTypeMemory)
	}
	return nil
}

func (c *Config) validateLifecycle() error {
	l := c.Lifecycle
	for name, v := range map[string]*int{
		"graceDays":   l.GraceDays,
		"archiveDays": l.ArchiveDays,
		"deleteDays":  l.DeleteDays,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("lifecycle.%s must not be negative", name)
		}
	}

	if l.GetArchiveDays() < l.GetGraceDays() {
		return fmt.Errorf("lifecycle.archiveDays (%d) must not be less than lifecycle.graceDays (%d)",
			l.GetArchiveDays(), l.GetGraceDays())
	}
	if l.GetDeleteDays() < l.GetArchiveDays() {
		return fmt.Errorf("lifecycle.deleteDays (%d) must not be less than lifecycle.archiveDays (%d)",
			l.GetDeleteDays(), l.GetArchiveDays())
	}
	return nil
}

func (c *Config) validateBatch() error {
	b := c.Batch
	for name, v := range map[string]string{
		"quota":     b.Quota,
		"reserve":   b.Reserve,
		"itemDelay": b.ItemDelay,
		"leaseTTL":  b.LeaseTTL,
	} {
		if err := validateDuration(v); err != nil {
			return fmt.Errorf("batch.%s must be a valid duration (e.g., '30s', '5m'): %w", name, err)
		}
	}

	if b.GetQuota() <= 0 {
		return fmt.Errorf("batch.quota must be positive")
	}
	if b.GetReserve() >= b.GetQuota() {
		return fmt.Errorf("batch.reserve (%s) must be less than batch.quota (%s)", b.GetReserve(), b.GetQuota())
	}
	if b.BatchSize < 0 || b.MaxBatchSize < 0 {
		return fmt.Errorf("batch.batchSize and batch.maxBatchSize must not be negative")
	}
	return nil
}

func (c *Config) validateRetry() error {
	r := c.Retry
	if r.MaxAttempts < 0 {
		return fmt.Errorf("retry.maxAttempts must not be negative")
	}
	if err := validateDuration(r.BaseDelay); err != nil {
		return fmt.Errorf("retry.baseDelay must be a valid duration: %w", err)
	}
	if err := validateDuration(r.MaxDelay); err != nil {
		return fmt.Errorf("retry.maxDelay must be a valid duration: %w", err)
	}
	if r.GetMaxDelay() < r.GetBaseDelay() {
		return fmt.Errorf("retry.maxDelay must not be less than retry.baseDelay")
	}
	return nil
}

func (c *Config) validateGroups() error {
	seen := make(map[string]bool)
	for i, def := range c.Groups {
		if def.Category == "" {
			return fmt.Errorf("groups[%d]: category is required", i)
		}
		if def.BaseName == "" {
			return fmt.Errorf("groups[%d]: baseName is required", i)
		}
		if def.Attribute == "" {
			return fmt.Errorf("groups[%d] (%s.%s): attribute is required", i, def.Category, def.BaseName)
		}
		if len(def.Values) == 0 {
			return fmt.Errorf("groups[%d] (%s.%s): at least one value is required", i, def.Category, def.BaseName)
		}

		key := strings.ToLower(def.Category + "." + def.BaseName)
		if seen[key] {
			return fmt.Errorf("groups[%d]: duplicate group definition '%s'", i, key)
		}
		seen[key] = true
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.GetStorageType() {
	case StorageTypeFile:
	case StorageTypeDatabase:
		if c.Database == nil {
			return fmt.Errorf("database configuration is required when storage.type is %q", StorageTypeDatabase)
		}
		if c.Database.Host == "" || c.Database.Database == "" || c.Database.User == "" {
			return fmt.Errorf("database.host, database.database and database.user are required")
		}
		if c.Database.ConnMaxLifetime != "" {
			if _, err := time.ParseDuration(c.Database.ConnMaxLifetime); err != nil {
				return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
			}
		}
	default:
		return fmt.Errorf("storage.type %q is not supported (use %q or %q)",
			c.Storage.Type, StorageTypeFile, StorageTypeDatabase)
	}
	return nil
}

func validateDuration(value string) error {
	if value == "" {
		return nil
	}
	_, err := time.ParseDuration(value)
	return err
}
