// Command token mints a bearer token for local testing.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
)

func main() {
	cfg := config.Load()

	id := flag.String("id", "", "Subject id (student or staff id)")
	role := flag.String("role", string(attendance.RoleStudent), "student, hoc, lecturer or admin")
	dept := flag.String("dept", "", "Department")
	level := flag.String("level", "", "Level")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *id == "" {
		log.Fatal("-id is required")
	}
	tok, exp, err := auth.Issue(attendance.Actor{
		ID:         *id,
		Role:       attendance.Role(*role),
		Department: *dept,
		Level:      *level,
	}, cfg.JWTIssuer, cfg.JWTSigningKey, *ttl)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(tok)
	log.Printf("expires %s", exp.Format(time.RFC3339))
}
