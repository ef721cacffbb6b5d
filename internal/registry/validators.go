package registry

import "fmt"

// serverValidator checks the connection settings of a networked database.
type serverValidator struct {
	dialect string
}

func (v serverValidator) Type() string { return v.dialect }

func (v serverValidator) Validate(config *InternalConfig) error {
	db := config.Database
	if db.DSN != "" {
		return nil
	}
	if db.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if db.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if db.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	return nil
}

// postgisValidator adds the sslmode check.
type postgisValidator struct {
	serverValidator
}

func (v postgisValidator) Validate(config *InternalConfig) error {
	if err := v.serverValidator.Validate(config); err != nil {
		return err
	}
	switch config.Database.SSLMode {
	case "", "disable", "allow", "prefer", "require", "verify-ca", "verify-full":
		return nil
	}
	return fmt.Errorf("database.ssl_mode %q is not a postgres sslmode", config.Database.SSLMode)
}

// sqliteValidator only needs a database file.
type sqliteValidator struct{}

func (sqliteValidator) Type() string { return "sqlite" }

func (sqliteValidator) Validate(config *InternalConfig) error {
	if config.Database.DSN == "" && config.Database.Database == "" {
		return fmt.Errorf("database.database must name the sqlite file")
	}
	return nil
}

func init() {
	RegisterValidator(serverValidator{dialect: "mysql"})
	RegisterValidator(postgisValidator{serverValidator{dialect: "postgis"}})
	RegisterValidator(sqliteValidator{})
}
