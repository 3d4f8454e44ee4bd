// Command devtoken mints an access token for local testing of the signaling
// endpoint. It reads the same JWT_* settings as the relay.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"call-relay/internal/auth"
	"call-relay/internal/config"
	"call-relay/internal/rbac"

	"github.com/spf13/viper"
)

func main() {
	id := flag.String("id", "", "user id (required)")
	name := flag.String("name", "", "display name")
	role := flag.String("role", rbac.RoleUser, "role: user or admin")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to JWT_ACCESS_TTL")
	flag.Parse()

	if err := run(*id, *name, *role, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(id, name, role string, ttl time.Duration) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("-id is required")
	}
	if role != rbac.RoleUser && role != rbac.RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}

	cfg := authConfig()
	if ttl > 0 {
		cfg.AccessTokenTTL = ttl
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		return err
	}
	tok, err := m.IssueAccess(time.Now(), id, name, role)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// authConfig reads only the JWT settings so a token can be minted without a
// database configured.
func authConfig() config.AuthConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("JWT_ACCESS_TTL", "24h")
	return config.AuthConfig{
		JWTSecret:      v.GetString("JWT_SECRET"),
		JWTIssuer:      strings.TrimSpace(v.GetString("JWT_ISSUER")),
		JWTAudience:    strings.TrimSpace(v.GetString("JWT_AUDIENCE")),
		AccessTokenTTL: v.GetDuration("JWT_ACCESS_TTL"),
	}
}
