package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// backend is implemented by every provider that needs configuration before
// first use.
type backend interface {
	Database
	Validate() error
	Init(ctx context.Context) error
}

var configuredProvider string

// Provider returns the name of the provider selected by flags. It is empty
// until flags are parsed.
func Provider() string {
	return configuredProvider
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: memory, sqlite, postgres, clickhouse, firestore)")

	var p struct {
		Database
	}

	sq := configuredSQLite()
	pg := configuredPostgres()
	ch := configuredClickHouse()
	fs := configuredFirestore()

	lflag.Do(func() {
		configuredProvider = *provider
		if *provider == "memory" {
			p.Database = NewMemory()
			return
		}

		var b backend
		switch *provider {
		case "sqlite":
			b = sq
		case "postgres":
			b = pg
		case "clickhouse":
			b = ch
		case "firestore":
			b = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
		if err := b.Validate(); err != nil {
			panic(fmt.Sprintf("%s validation failed: %v", *provider, err))
		}
		p.Database = b
		if err := b.Init(context.Background()); err != nil {
			panic(fmt.Sprintf("%s init failed: %v", *provider, err))
		}
	})

	return &p
}
