// Command issue-token prints an admin bearer token for the story write endpoints.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/samhwalin/service/internal/auth"
	"github.com/samhwalin/service/internal/config"
	"github.com/samhwalin/service/internal/logger"
)

func main() {
	subject := flag.String("sub", "admin", "token subject")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	logger.Setup(cfg.LogLevel, !cfg.IsProduction())

	token, err := auth.IssueAdminToken(cfg.JWTSecret, *subject, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	fmt.Fprintln(os.Stdout, token)
	log.Info().Str("sub", *subject).Time("expires", time.Now().Add(*ttl)).Msg("admin token issued")
}
