// Command seed provisions the demo accounts on top of the SQL seeds applied
// by cmd/migrate. Passwords are hashed here so no digest ever lives in a
// checked-in SQL file.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"storyhub.org/internal/auth"
)

type demoUser struct {
	name     string
	email    string
	password string
	roleName string
}

var demoUsers = []demoUser{
	{"Angel De La Cruz", "angel@yopmail.com", "password", "Admin"},
	{"Ale Peralta", "ale@yopmail.com", "password", "User"},
}

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("HUB_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or HUB_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := auth.NewPGStore(db)
	digest := auth.NewDigest(0)

	for _, du := range demoUsers {
		roleID, err := roleIDByName(ctx, db, du.roleName)
		if err != nil {
			log.Fatalf("resolve role %q: %v", du.roleName, err)
		}
		hash, err := digest.Hash(du.password)
		if err != nil {
			log.Fatalf("hash password for %s: %v", du.email, err)
		}
		user := &auth.User{
			Name:         du.name,
			Email:        du.email,
			PasswordHash: hash,
			RoleID:       roleID,
		}
		err = store.Users().Create(ctx, user)
		switch {
		case err == nil:
			log.Printf("seeded user %s (id=%d, role=%s)", du.email, user.ID, du.roleName)
		case errors.Is(err, auth.ErrConflict):
			log.Printf("user %s already present, skipping", du.email)
		default:
			log.Fatalf("create user %s: %v", du.email, err)
		}
	}
}

func roleIDByName(ctx context.Context, db *sql.DB, name string) (int64, error) {
	var id int64
	err := db.QueryRowContext(ctx, `select id from roles where name=$1`, name).Scan(&id)
	return id, err
}
