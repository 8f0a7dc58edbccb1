// fairverify checks a revealed round's commit-reveal material: it recomputes
// the server-seed hash and the crash point so a player can audit a round
// after the seed is published.
//
// Usage:
//
//	fairverify -server-seed <hex> -client-seed <hex> -nonce <n> [-hash <published hash>]
package main

import (
	"flag"
	"fmt"
	"os"

	"crash-lite/crash"
)

func main() {
	serverSeed := flag.String("server-seed", "", "revealed server seed (hex)")
	clientSeed := flag.String("client-seed", "", "published client seed (hex)")
	nonce := flag.Uint64("nonce", 0, "published round nonce")
	publishedHash := flag.String("hash", "", "optional: server-seed hash published at betting open")
	houseEdge := flag.Float64("house-edge", 0.01, "house edge used by the table")
	flag.Parse()

	if *serverSeed == "" || *clientSeed == "" || *nonce == 0 {
		flag.Usage()
		os.Exit(2)
	}

	hash := crash.HashServerSeed(*serverSeed)
	fmt.Printf("server seed hash: %s\n", hash)
	if *publishedHash != "" {
		if hash != *publishedHash {
			fmt.Println("commitment: MISMATCH, revealed seed does not match the published hash")
			os.Exit(1)
		}
		fmt.Println("commitment: ok")
	}

	cfg := crash.DefaultConfig()
	cfg.HouseEdge = *houseEdge
	point := crash.DeriveCrashPoint(*serverSeed, *clientSeed, *nonce, cfg.HouseEdge, cfg.MinMultiplier, cfg.MaxMultiplier)
	fmt.Printf("crash point: %sx (reached %dms into the flight)\n",
		crash.FormatMultiplier(point), crash.FlightDuration(point))
}
