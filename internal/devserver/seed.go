package devserver

import (
	"fmt"

	"github.com/fiqir/dating-app/internal/api"
)

// DefaultGifts is the catalog the dev server ships with.
func DefaultGifts() []api.Gift {
	return []api.Gift{
		{ID: "rose", Name: "Rose", CoinCost: 50},
		{ID: "coffee", Name: "Buna Ceremony", CoinCost: 80},
		{ID: "teddy", Name: "Teddy Bear", CoinCost: 120},
		{ID: "diamond", Name: "Diamond", CoinCost: 500},
	}
}

// SeedUser describes one demo account.
type SeedUser struct {
	Name     string
	Email    string
	Password string
	KYCLevel int
	Coins    int64
}

// DefaultSeedUsers are the demo accounts created on startup.
func DefaultSeedUsers() []SeedUser {
	return []SeedUser{
		{Name: "Hanna", Email: "hanna@fiqir.dev", Password: "hanna-pass", KYCLevel: 2, Coins: 500},
		{Name: "Dawit", Email: "dawit@fiqir.dev", Password: "dawit-pass", KYCLevel: 1, Coins: 200},
		{Name: "Selam", Email: "selam@fiqir.dev", Password: "selam-pass", KYCLevel: 2, Coins: 1000},
		{Name: "Yonas", Email: "yonas@fiqir.dev", Password: "yonas-pass", KYCLevel: 0, Coins: 50},
	}
}

// Seed populates a store with the given users.
func Seed(store *Store, users []SeedUser) ([]*User, error) {
	out := make([]*User, 0, len(users))
	for _, su := range users {
		u, err := store.AddUser(su.Name, su.Email, su.Password, su.KYCLevel, su.Coins)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", su.Email, err)
		}
		out = append(out, u)
	}
	return out, nil
}
