package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/blendsoftware/pos_backend/config"
	"bitbucket.org/blendsoftware/pos_backend/models"
)

func main() {
	businessID := flag.String("business-id", "", "Optional: business id (uuid); rebuilds every business when empty")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	rebuilt, err := models.RebuildStockSummaries(db, strings.TrimSpace(*businessID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed after %d keys: %v\n", rebuilt, err)
		os.Exit(1)
	}

	fmt.Printf("stock summary rebuild complete: %d keys recomputed\n", rebuilt)
}
