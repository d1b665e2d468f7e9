// Command smoke drives one spend proposal through a vote against a running
// daod over gRPC. The node must run with dev.faucet enabled.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"sunshine.org/internal/auth"
	"sunshine.org/internal/dao"
	"sunshine.org/internal/ids"
	"sunshine.org/internal/rpc"
	"sunshine.org/internal/spend"
	"sunshine.org/internal/vote"
)

func main() {
	grpcAddr := envOr("DAO_SMOKE_GRPC_ADDR", "localhost:9090")
	httpAddr := envOr("DAO_SMOKE_HTTP_ADDR", "http://localhost:8080")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := rpc.Dial(grpcAddr)
	if err != nil {
		log.Fatalf("dial daod at %s: %v", grpcAddr, err)
	}
	defer conn.Close()

	run := ids.RunTag()
	alice := dao.AccountID("smoke-alice-" + run)
	bob := dao.AccountID("smoke-bob-" + run)
	dest := dao.AccountID("smoke-dest-" + run)

	aliceToken := faucet(ctx, httpAddr, alice)
	bobToken := faucet(ctx, httpAddr, bob)
	asAlice := rpc.NewClient(conn, aliceToken, "")
	asBob := rpc.NewClient(conn, bobToken, "")

	var o struct {
		ID dao.OrgID `json:"id"`
	}
	if err := asAlice.Command(ctx, "RegisterOrg", rpc.Args{Flat: []dao.AccountID{alice, bob}}, &o); err != nil {
		log.Fatalf("register org: %v", err)
	}
	bank, err := asAlice.OpenBank(ctx, o.ID, 100, "")
	if err != nil {
		log.Fatalf("open bank: %v", err)
	}
	p, err := asAlice.ProposeSpend(ctx, bank.ID, 30, dest)
	if err != nil {
		log.Fatalf("propose spend: %v", err)
	}
	th := vote.UnanimousThreshold()
	if _, _, err = asAlice.TriggerVote(ctx, bank.ID, p.ID, &th); err != nil {
		log.Fatalf("trigger vote: %v", err)
	}
	p, err = asAlice.Spend(ctx, bank.ID, p.ID)
	if err != nil {
		log.Fatalf("get spend: %v", err)
	}
	for _, c := range []*rpc.Client{asAlice, asBob} {
		if _, err := c.SubmitVote(ctx, p.Vote, vote.InFavor); err != nil {
			log.Fatalf("vote: %v", err)
		}
	}

	p, err = asAlice.Spend(ctx, bank.ID, p.ID)
	if err != nil {
		log.Fatalf("get spend: %v", err)
	}
	if p.State != spend.Executed {
		log.Fatalf("spend %d is %s, want %s", p.ID, p.State, spend.Executed)
	}
	bal, err := asAlice.Balance(ctx, dest)
	if err != nil {
		log.Fatalf("balance: %v", err)
	}
	if bal != 30 {
		log.Fatalf("destination holds %d, want 30", bal)
	}

	fmt.Printf("smoke passed: org=%d bank=%d spend=%d\n", o.ID, bank.ID, p.ID)
}

// faucet endows account over HTTP and returns a token for it.
func faucet(ctx context.Context, base string, account dao.AccountID) string {
	var tok struct {
		AccessToken string `json:"access_token"`
	}
	body := fmt.Sprintf(`{"account":%q,"scopes":[%q]}`, account, auth.ScopeFaucet)
	if err := postJSON(ctx, base+"/v1/dev/token", "", body, &tok); err != nil {
		log.Fatalf("token for %s: %v", account, err)
	}
	if err := postJSON(ctx, base+"/v1/dev/faucet", tok.AccessToken, "{}", nil); err != nil {
		log.Fatalf("faucet for %s: %v", account, err)
	}
	return tok.AccessToken
}

func postJSON(ctx context.Context, url, token, body string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", url, resp.Status)
	}
	if out == nil {
		return nil
	}
	return jsoniter.NewDecoder(resp.Body).Decode(out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
