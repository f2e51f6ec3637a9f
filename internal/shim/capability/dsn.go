package capability

import (
	"github.com/jackc/pgx/v5/pgconn"
)

// parsedDSN is the subset of pgconn.Config this package needs to populate
// a DBConnectConfig.
type parsedDSN struct {
	Host     string
	Port     uint16
	Database string
	User     string
	Password string
}

// parsePostgresDSN reuses pgx's own connection-string parser so a guest
// may pass a Postgres URL/DSN instead of discrete fields. This does not
// violate the "no wire-protocol parsing" non-goal in spec.md §1 --
// parsing a connection string is not parsing wire bytes, and the shim
// still never speaks the Postgres handshake on the guest's behalf.
func parsePostgresDSN(dsn string) (parsedDSN, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return parsedDSN{}, err
	}
	return parsedDSN{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
	}, nil
}
