package main

import (
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Bongo-George/The-Idempotent-Wallet/internal/database"
)

// seed creates -count wallets with a starting balance, for use
// against a local or test database. It is a dev tool, not part of the
// service: the wallet-creation operation itself is out of scope per
// spec.md's non-goals.
func main() {
	owner := flag.String("owner", "seed-owner", "owner id prefix for generated wallets")
	count := flag.Int("count", 2, "number of wallets to create")
	balance := flag.String("balance", "1000.0000", "starting balance for each wallet")
	flag.Parse()

	startingBalance, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatalf("invalid starting balance %q: %v", *balance, err)
	}

	db := database.InitDatabase()
	defer db.Close()

	now := time.Now().UTC()
	for i := 0; i < *count; i++ {
		id := uuid.New()
		ownerID := *owner
		if *count > 1 {
			ownerID = ownerID + "-" + uuid.New().String()[:8]
		}

		_, err := db.Exec(`
			INSERT INTO wallets (id, owner_id, balance, version, created_at, updated_at)
			VALUES ($1, $2, $3, 0, $4, $4)
		`, id, ownerID, startingBalance, now)
		if err != nil {
			log.Fatalf("failed to seed wallet %s: %v", ownerID, err)
		}

		log.Printf("seeded wallet %s owner=%s balance=%s", id, ownerID, startingBalance.StringFixed(4))
	}
}
