// Package main mints staff JWTs for the internal document endpoints.
// Operators use the printed token as a bearer credential when voiding a
// document or pulling its audit trail.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/inkseal/inkseal/internal/auth"
	"github.com/inkseal/inkseal/internal/config"
)

func main() {
	email := flag.String("email", "", "staff email recorded as the acting operator (required)")
	name := flag.String("name", "", "staff display name recorded on void actions")
	configFile := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	if *email == "" {
		fmt.Fprintln(os.Stderr, "usage: stafftoken -email ops@example.com [-name \"Ada Operator\"]")
		os.Exit(2)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	// Tokens are always signed with the current secret; the previous secret
	// only matters for validation during a rotation window.
	jwtService := auth.NewJWTServiceWithRotation(cfg.JWTSecret, cfg.JWTPreviousSecret)

	token, err := jwtService.GenerateStaffToken(*email, *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to generate token:", err)
		os.Exit(1)
	}

	fmt.Printf("expires in %s\n", auth.StaffTokenExpiry)
	fmt.Println(token)
}
