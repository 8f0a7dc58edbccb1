package wallet

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	WalletModeMemory = "memory"
	WalletModeLocal  = "local"
	WalletModeDB     = "db"
)

func walletModeFromEnv() string {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("WALLET_MODE")))
	switch raw {
	case "", WalletModeMemory, "mem":
		return WalletModeMemory
	case WalletModeLocal, "sqlite":
		return WalletModeLocal
	case WalletModeDB, "postgres", "postgresql":
		return WalletModeDB
	default:
		return raw
	}
}

func startingBalanceFromEnv() int64 {
	raw := strings.TrimSpace(os.Getenv("WALLET_STARTING_BALANCE"))
	if raw == "" {
		return defaultStartingBalance
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return defaultStartingBalance
	}
	return v
}

func NewServiceFromEnv() (Service, string, error) {
	mode := walletModeFromEnv()

	switch mode {
	case WalletModeMemory:
		return NewManager(startingBalanceFromEnv()), mode, nil
	case WalletModeLocal:
		service, err := NewSQLiteServiceFromEnv()
		if err != nil {
			return nil, mode, err
		}
		return service, mode, nil
	case WalletModeDB:
		service, err := NewPostgresServiceFromEnv()
		if err != nil {
			return nil, mode, err
		}
		return service, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid WALLET_MODE %q (supported: %s, %s, %s)", mode, WalletModeMemory, WalletModeLocal, WalletModeDB)
	}
}
