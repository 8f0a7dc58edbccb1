package store

import (
	"fmt"
	"os"
	"strings"
)

const (
	StoreModeMemory = "memory"
	StoreModeLocal  = "local"
	StoreModeDB     = "db"
)

func storeModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_MODE")))
	switch raw {
	case "", StoreModeMemory, "mem", "noop":
		return StoreModeMemory
	case StoreModeLocal, "sqlite":
		return StoreModeLocal
	case StoreModeDB, "postgres", "postgresql":
		return StoreModeDB
	default:
		return raw
	}
}

func NewServiceFromEnv() (Service, string, error) {
	mode := storeModeFromEnv()

	switch mode {
	case StoreModeMemory:
		return NewNoopService(), mode, nil
	case StoreModeLocal:
		service, err := NewSQLiteServiceFromEnv()
		if err != nil {
			return nil, mode, err
		}
		return service, mode, nil
	case StoreModeDB:
		service, err := NewPostgresServiceFromEnv()
		if err != nil {
			return nil, mode, err
		}
		return service, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid STORE_MODE %q (supported: %s, %s, %s)", mode, StoreModeMemory, StoreModeLocal, StoreModeDB)
	}
}
