// This command is only used for local testing: it mints a session token pair
// with the same secrets as a locally running server, printing the cookies to
// supply with requests against it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/sethvargo/go-envconfig"

	"github.com/chinmina/sessiongate/internal/config"
	"github.com/chinmina/sessiongate/internal/token"
)

type Config struct {
	Subject string `env:"UTIL_SUBJECT, default=test-subject"`
	Role    string `env:"UTIL_ROLE"`

	Token  config.TokenConfig
	Cookie config.CookieConfig
}

func main() {
	cfg := Config{}
	err := envconfig.Process(context.Background(), &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	signer, err := token.NewSigner(cfg.Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating signer: %v\n", err)
		os.Exit(1)
	}

	payload := token.Payload{Subject: cfg.Subject}
	if cfg.Role != "" {
		payload.Claims = map[string]string{"role": cfg.Role}
	}

	ctx := context.Background()

	accessToken, err := signer.Issue(ctx, token.Access, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating access token: %v\n", err)
		os.Exit(1)
	}

	refreshToken, err := signer.Issue(ctx, token.Refresh, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating refresh token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", cookieHeader(cfg.Cookie, accessToken, refreshToken))
}

// cookieHeader renders the pair as a Cookie request header value, suitable
// for curl's --cookie flag.
func cookieHeader(cfg config.CookieConfig, accessToken, refreshToken string) string {
	access := &http.Cookie{Name: cfg.AccessName, Value: accessToken}
	refresh := &http.Cookie{Name: cfg.RefreshName, Value: refreshToken}

	return access.String() + "; " + refresh.String()
}
