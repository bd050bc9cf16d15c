package enums

import "fmt"

// DatabaseType identifies how a tenant database is reached.
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
	DatabaseTypeSupabase   DatabaseType = "supabase"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

var validDatabaseTypes = []DatabaseType{
	DatabaseTypePostgreSQL,
	DatabaseTypeSupabase,
	DatabaseTypeSQLite,
}

// String implements fmt.Stringer.
func (t DatabaseType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known DatabaseType.
func (t DatabaseType) IsValid() bool {
	for _, candidate := range validDatabaseTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// Driver maps the tenant database type onto a GORM driver name.
func (t DatabaseType) Driver() string {
	if t == DatabaseTypeSQLite {
		return "sqlite"
	}
	return "postgres"
}

// ParseDatabaseType converts raw input into a DatabaseType.
func ParseDatabaseType(value string) (DatabaseType, error) {
	for _, candidate := range validDatabaseTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid database type %q", value)
}

// ConnectionStatus records the outcome of the latest tenant connection attempt.
type ConnectionStatus string

const (
	ConnectionStatusPending   ConnectionStatus = "pending"
	ConnectionStatusConnected ConnectionStatus = "connected"
	ConnectionStatusFailed    ConnectionStatus = "failed"
	ConnectionStatusTimeout   ConnectionStatus = "timeout"
)

var validConnectionStatuses = []ConnectionStatus{
	ConnectionStatusPending,
	ConnectionStatusConnected,
	ConnectionStatusFailed,
	ConnectionStatusTimeout,
}

// String implements fmt.Stringer.
func (s ConnectionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ConnectionStatus.
func (s ConnectionStatus) IsValid() bool {
	for _, candidate := range validConnectionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
