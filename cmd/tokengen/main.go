// Command tokengen issues a staff JWT for the admin API.
//
//	tokengen -user <uuid> -role admin -ttl 12h
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/consulting-marketplace/backend/internal/auth"
	"github.com/consulting-marketplace/backend/internal/config"
	"github.com/consulting-marketplace/backend/internal/rbac"
	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	userFlag := flag.String("user", "", "staff user id (uuid)")
	role := flag.String("role", rbac.RoleAdmin, "role: admin or maestro")
	ttl := flag.Duration("ttl", cfg.JWTExpiration, "token lifetime")
	flag.Parse()

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -user:", err)
		os.Exit(2)
	}
	if !rbac.IsValidRole(*role) {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	token, err := auth.GenerateJWT(cfg.JWTSecret, userID, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
