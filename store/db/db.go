// Package db selects the concrete storage driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/profile"
	"github.com/RcityLucas/Prizm-Agent-sub001/store"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/httpdoc"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/memdb"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/postgres"
	"github.com/RcityLucas/Prizm-Agent-sub001/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "httpdoc":
		driver, err = httpdoc.NewDB(profile)
	case "memory":
		driver, err = memdb.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
