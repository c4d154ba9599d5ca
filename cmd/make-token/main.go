package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/auth"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
)

// make-token mints a development JWT signed with the configured secret.
// Production tokens come from the platform's identity service.
func main() {
	var tokenType string
	var userID int
	flag.StringVar(&tokenType, "type", "participant", "Token type: participant or operator")
	flag.IntVar(&userID, "user", 1, "User ID to embed in the token")
	flag.Parse()

	var tt auth.TokenType
	switch tokenType {
	case "participant":
		tt = auth.TokenTypeParticipant
	case "operator":
		tt = auth.TokenTypeOperator
	default:
		log.Fatalf("Unknown token type: %s", tokenType)
	}

	cfg := config.Load()
	validator := auth.NewValidator(cfg)

	token, err := validator.GenerateToken(tt, userID)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(token)
}
