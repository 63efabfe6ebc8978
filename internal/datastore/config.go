package datastore

// Type selects the database backend.
type Type string

const (
	TypeSQLite Type = "sqlite"
	TypeMySQL  Type = "mysql"
)

// Config selects and configures the backing database.
type Config struct {
	Type       Type
	SQLitePath string
	MySQL      MySQLConfig
}
