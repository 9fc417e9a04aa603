// Command smoke-auth runs register, login, refresh and /me against a live API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
)

type session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func main() {
	log.SetFlags(0)
	base := flag.String("base", envOr("RECRUIT_SMOKE_BASE_URL", "http://localhost:8080"), "API base URL")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	email := fmt.Sprintf("smoke-%s@example.org", uuid.NewString()[:8])
	password := "Smoke-Test-123!"

	var reg session
	mustCall(client, http.MethodPost, *base+"/register", "", map[string]any{
		"email": email, "password": password, "firstName": "Smoke", "lastName": "Test",
	}, http.StatusOK, &reg)
	if reg.User.Role != "applicant" {
		log.Fatalf("register: expected applicant role, got %q", reg.User.Role)
	}

	var login session
	mustCall(client, http.MethodPost, *base+"/login", "", map[string]any{
		"email": email, "password": password,
	}, http.StatusOK, &login)

	var refreshed struct {
		AccessToken string `json:"accessToken"`
	}
	mustCall(client, http.MethodPost, *base+"/refresh", "", map[string]any{
		"refreshToken": login.RefreshToken,
	}, http.StatusOK, &refreshed)

	var me map[string]any
	mustCall(client, http.MethodGet, *base+"/me", refreshed.AccessToken, nil, http.StatusOK, &me)
	if me["id"] != reg.User.ID {
		log.Fatalf("/me: id %v, registered %s", me["id"], reg.User.ID)
	}
	fmt.Printf("smoke ok: user %s\n", reg.User.ID)
}

func mustCall(client *http.Client, method, url, token string, body any, want int, out any) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			log.Fatalf("%s %s: marshal: %v", method, url, err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		var e map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&e)
		log.Fatalf("%s %s: status %d, want %d: %v", method, url, resp.StatusCode, want, e)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
