// Command grant-role assigns a role to an existing user, typically to
// bootstrap the first admin before POST /admin/roles is usable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"recruitportal.org/internal/auth"
	"recruitportal.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	var (
		dsn    = flag.String("dsn", os.Getenv("RECRUIT_DATABASE_DSN"), "PostgreSQL DSN")
		email  = flag.String("email", "", "email of the user to grant")
		role   = flag.String("role", auth.RoleAdmin.String(), "role name, e.g. admin or \"team lead\"")
		team   = flag.String("team", "", "team scope (optional)")
		system = flag.String("system", "", "system scope (optional)")
	)
	flag.Parse()

	if *dsn == "" || strings.TrimSpace(*email) == "" {
		log.Fatal("usage: grant-role -dsn <dsn> -email <email> [-role admin] [-team T] [-system S]")
	}
	r, err := auth.ParseRole(*role)
	if err != nil {
		log.Fatalf("role: %v", err)
	}

	store, err := pg.Open(*dsn, pg.DefaultPoolConfig())
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := store.FindByEmail(ctx, strings.TrimSpace(*email))
	if err != nil {
		log.Fatalf("find user %s: %v", *email, err)
	}
	a, err := store.CreateRoleAssignment(ctx, auth.RoleAssignment{
		UserID: user.ID,
		Role:   r,
		Team:   optional(*team),
		System: optional(*system),
	})
	if err != nil {
		log.Fatalf("grant %s: %v", r, err)
	}
	fmt.Printf("granted %q to %s (assignment %s)\n", a.Role.String(), user.Email, a.ID)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
