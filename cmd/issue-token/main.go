// Command issue-token mints a bearer token for a user id. Used for local
// testing and for provisioning admin tokens.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/auth"
	"treasure-hunt/internal/config"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	userID := flag.String("user", "", "user id (required)")
	username := flag.String("name", "", "display name")
	role := flag.String("role", auth.RolePlayer, "role: player or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	configPath := flag.String("config", "config", "config directory")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *role != auth.RolePlayer && *role != auth.RoleAdmin {
		log.Fatal().Str("role", *role).Msg("Unknown role")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *ttl == 0 {
		*ttl = cfg.Auth.TokenTTL
	}
	if *username == "" {
		*username = *userID
	}

	token, err := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).IssueToken(*userID, *username, *role, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	fmt.Println(token)
}
