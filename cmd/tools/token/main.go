// Command token mints a register token for local development and smoke
// tests. It signs with JWT_SECRET, JWT_ISSUER and JWT_AUDIENCE.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-kasir/internal/auth"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/subscription"
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info")

	register := flag.String("register", "register-1", "register id placed in the subject")
	plan := flag.String("plan", string(subscription.PlanMonthly), "subscription plan: trial, monthly, quarterly, yearly or none")
	status := flag.String("status", string(subscription.StatusActive), "subscription status")
	days := flag.Int("days", 30, "days until the subscription ends")
	grace := flag.Int("grace-days", 0, "grace period after the end date")
	ttl := flag.Duration("ttl", 12*time.Hour, "token lifetime")
	flag.Parse()

	tokens, err := auth.NewTokens(auth.Config{
		Secret:   os.Getenv("JWT_SECRET"),
		Issuer:   os.Getenv("JWT_ISSUER"),
		Audience: os.Getenv("JWT_AUDIENCE"),
		TTL:      *ttl,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("configure tokens")
	}

	end := time.Now().AddDate(0, 0, *days)
	sub := &subscription.Subscription{
		Plan:    subscription.Plan(*plan),
		Status:  subscription.Status(*status),
		EndDate: end,
	}
	if *grace > 0 {
		graceEnd := end.AddDate(0, 0, *grace)
		sub.GracePeriodEnd = &graceEnd
	}
	token, expires, err := tokens.Issue(auth.Claims{RegisterID: *register, Subscription: sub})
	if err != nil {
		logger.Fatal().Err(err).Msg("issue token")
	}
	logger.Info().Str("register", *register).Time("expires", expires).Msg("token issued")
	fmt.Println(token)
}
