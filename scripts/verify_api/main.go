package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mahaj/livechat/pkg/config"
	"github.com/mahaj/livechat/pkg/identity"
	"github.com/mahaj/livechat/pkg/model"
)

func main() {
	var cfg config.Client
	if err := config.Load(&cfg); err != nil {
		log.Fatal(err)
	}

	apiAddr := flag.String("api", cfg.APIURL, "identity service url")
	user := flag.String("user", "test_user", "account id")
	password := flag.String("password", "test_password", "account password")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 1. Login
	client := identity.NewClient(*apiAddr)
	resp, err := client.Login(ctx, identity.Credentials{UserID: *user, Password: *password})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Signed in as %s\n", resp.Principal.UID)

	// 2. Ordered history
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *apiAddr+"/messages", nil)
	if err != nil {
		log.Fatal(err)
	}
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("History request failed:", err)
	}
	defer httpResp.Body.Close()

	var messages []model.Message
	if err := json.NewDecoder(httpResp.Body).Decode(&messages); err != nil {
		log.Fatal("Decode history:", err)
	}
	for _, m := range messages {
		fmt.Printf("%s  %-12s %s\n", m.CreatedAt.Format(time.RFC3339), m.UID, m.Text)
	}

	// 3. Logout
	if err := client.Logout(ctx, resp.Token); err != nil {
		log.Fatal(err)
	}
	fmt.Println("Signed out")
}
