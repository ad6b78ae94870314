package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"offramp-backend/internal/middleware"
)

// generate-jwt mints an API token for local testing.
func main() {
	userID := flag.String("user", "", "user id claim")
	email := flag.String("email", "", "email claim")
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "signing secret")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "a signing secret is required (-secret or JWT_SECRET)")
		os.Exit(1)
	}
	if *userID == "" && *email == "" {
		fmt.Fprintln(os.Stderr, "at least one of -user or -email is required")
		os.Exit(1)
	}

	now := time.Now()
	claims := middleware.Claims{
		UserID: *userID,
		Email:  *email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
