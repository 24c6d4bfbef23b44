package main

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables consumed by LoadConfig.
const (
	EnvDriver     = "MSSQL_DRIVER"
	EnvHost       = "MSSQL_HOST"
	EnvUser       = "MSSQL_USER"
	EnvPassword   = "MSSQL_PASSWORD"
	EnvDatabase   = "MSSQL_DATABASE"
	EnvEncrypt    = "MSSQL_ENCRYPT"
	EnvTrustCert  = "MSSQL_TRUST_SERVER_CERTIFICATE"
	EnvConfigFile = "MSSQL_CONFIG_FILE"
)

// Config is the external configuration for one gateway process. It is built
// once from an injected environment lookup (plus an optional TOML file) and
// passed into components explicitly; nothing below this layer reads process
// state on its own.
type Config struct {
	Driver   string `toml:"driver"`
	Host     string `toml:"host"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`

	// Encrypt and TrustServerCertificate only apply to the Standard
	// dialect; CloudManaged overrides both. Empty means default
	// (permissive: no encryption, trust any certificate).
	Encrypt                string `toml:"encrypt"`
	TrustServerCertificate string `toml:"trust_server_certificate"`
}

// MissingConfigError lists every absent required field at once so a caller
// fixing their environment sees the complete deficiency in one round trip.
type MissingConfigError struct {
	Fields []string
}

func (e *MissingConfigError) Error() string {
	return "missing required database configuration: " + strings.Join(e.Fields, ", ")
}

// LoadConfig builds a Config from the given environment lookup. If
// MSSQL_CONFIG_FILE points at a TOML file, the file fills in fields the
// environment leaves unset; environment values always win.
func LoadConfig(getenv func(string) string) (Config, error) {
	cfg := Config{
		Driver:                 getenv(EnvDriver),
		Host:                   getenv(EnvHost),
		User:                   getenv(EnvUser),
		Password:               getenv(EnvPassword),
		Database:               getenv(EnvDatabase),
		Encrypt:                getenv(EnvEncrypt),
		TrustServerCertificate: getenv(EnvTrustCert),
	}

	if path := getenv(EnvConfigFile); path != "" {
		var file Config
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg = overlayConfig(cfg, file)
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}

	var missing []string
	if cfg.User == "" {
		missing = append(missing, EnvUser)
	}
	if cfg.Password == "" {
		missing = append(missing, EnvPassword)
	}
	if cfg.Database == "" {
		missing = append(missing, EnvDatabase)
	}
	if len(missing) > 0 {
		return Config{}, &MissingConfigError{Fields: missing}
	}

	return cfg, nil
}

// overlayConfig fills empty env fields from the config file.
func overlayConfig(env, file Config) Config {
	if env.Driver == "" {
		env.Driver = file.Driver
	}
	if env.Host == "" {
		env.Host = file.Host
	}
	if env.User == "" {
		env.User = file.User
	}
	if env.Password == "" {
		env.Password = file.Password
	}
	if env.Database == "" {
		env.Database = file.Database
	}
	if env.Encrypt == "" {
		env.Encrypt = file.Encrypt
	}
	if env.TrustServerCertificate == "" {
		env.TrustServerCertificate = file.TrustServerCertificate
	}
	return env
}

// Dialect selects the connection-configuration variant.
type Dialect int

const (
	// DialectStandard is a self-managed SQL Server instance.
	DialectStandard Dialect = iota
	// DialectCloudManaged is Azure SQL Database, which mandates encryption
	// and high-availability settings.
	DialectCloudManaged
)

func (d Dialect) String() string {
	if d == DialectCloudManaged {
		return "cloud-managed"
	}
	return "standard"
}

const (
	// cloudHostSuffix identifies Azure SQL Database hosts.
	cloudHostSuffix = ".database.windows.net"

	defaultSQLPort = 1433

	// cloudConnectTimeout is fixed for CloudManaged; Azure gateways can be
	// slow to accept during reconfiguration.
	cloudConnectTimeout = 30 * time.Second

	standardConnectTimeout = 10 * time.Second

	passwordMask = "****"
)

// ConnectionDescriptor is a validated, dialect-specific description of one
// connection. It is immutable once built and rebuilt per connection attempt
// from live configuration, so rotated credentials take effect immediately.
type ConnectionDescriptor struct {
	Driver                 string
	Host                   string
	Port                   int
	Database               string
	User                   string
	Password               string
	Dialect                Dialect
	Encrypt                bool
	TrustServerCertificate bool
	Timeout                time.Duration
	ApplicationIntent      string
	MultiSubnetFailover    bool
	ColumnEncryption       bool
}

// resolveDescriptor builds the descriptor for the configured server. A host
// under the Azure SQL domain selects the CloudManaged dialect, which forces
// encryption, certificate validation, the provider port, and failover
// settings regardless of caller input. Standard leaves encryption and trust
// caller-configurable with permissive defaults for local use.
func resolveDescriptor(cfg Config, probe DriverProbe) ConnectionDescriptor {
	host, port := splitHostPort(cfg.Host)

	desc := ConnectionDescriptor{
		Driver:   selectDriver(cfg.Driver, probe),
		Host:     host,
		Port:     port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
	}

	if strings.Contains(strings.ToLower(host), cloudHostSuffix) {
		desc.Dialect = DialectCloudManaged
		desc.Port = defaultSQLPort
		desc.Encrypt = true
		desc.TrustServerCertificate = false
		desc.Timeout = cloudConnectTimeout
		desc.ApplicationIntent = "ReadWrite"
		desc.MultiSubnetFailover = true
		desc.ColumnEncryption = true
		return desc
	}

	desc.Dialect = DialectStandard
	desc.Encrypt = parseBoolDefault(cfg.Encrypt, false)
	desc.TrustServerCertificate = parseBoolDefault(cfg.TrustServerCertificate, true)
	desc.Timeout = standardConnectTimeout
	return desc
}

// splitHostPort splits an optional ":port" suffix off the host, defaulting
// to the SQL Server port.
func splitHostPort(host string) (string, int) {
	if h, p, ok := strings.Cut(host, ":"); ok {
		if port, err := strconv.Atoi(p); err == nil {
			return h, port
		}
	}
	return host, defaultSQLPort
}

func parseBoolDefault(s string, def bool) bool {
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}

// ConnectionString renders the descriptor as the ADO-style connection
// string the sqlserver driver consumes.
func (d ConnectionDescriptor) ConnectionString() string {
	return d.connectionString(d.Password)
}

// Redacted renders the descriptor for logs with the password masked. The
// secret never appears in any diagnostic text this component produces.
func (d ConnectionDescriptor) Redacted() string {
	return d.connectionString(passwordMask)
}

func (d ConnectionDescriptor) connectionString(password string) string {
	parts := []string{
		"server=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"database=" + d.Database,
		"user id=" + d.User,
		"password=" + password,
		fmt.Sprintf("dial timeout=%d", int(d.Timeout.Seconds())),
	}
	if d.Encrypt {
		parts = append(parts, "encrypt=true")
	} else {
		parts = append(parts, "encrypt=disable")
	}
	parts = append(parts, "trustservercertificate="+strconv.FormatBool(d.TrustServerCertificate))
	if d.ApplicationIntent != "" {
		parts = append(parts, "applicationintent="+d.ApplicationIntent)
	}
	if d.MultiSubnetFailover {
		parts = append(parts, "multisubnetfailover=true")
	}
	if d.ColumnEncryption {
		parts = append(parts, "columnencryption=true")
	}
	return strings.Join(parts, ";")
}

// DriverProbe answers which database/sql drivers are usable. It exists as
// an interface so tests can substitute a fixed list for the process-wide
// driver registry.
type DriverProbe interface {
	Available() []string
}

// registryProbe reports the drivers registered with database/sql.
type registryProbe struct{}

func (registryProbe) Available() []string { return sql.Drivers() }

// driverPreference is the probe order when no driver is configured
// explicitly. go-mssqldb registers under both names.
var driverPreference = []string{"sqlserver", "mssql"}

const defaultDriverName = "sqlserver"

// selectDriver picks the configured driver, or the first preferred driver
// the probe reports, or the fixed default. Selection never fails: a bad
// probe result degrades to the default rather than blocking startup.
func selectDriver(override string, probe DriverProbe) string {
	if override != "" {
		return override
	}
	available := probe.Available()
	for _, name := range driverPreference {
		for _, have := range available {
			if name == have {
				return name
			}
		}
	}
	return defaultDriverName
}
