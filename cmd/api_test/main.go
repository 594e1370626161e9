package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/abcfe/abcfe-wallet/common/crypto"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/message"
	"github.com/abcfe/abcfe-wallet/session"
	"github.com/abcfe/abcfe-wallet/transport"
)

var (
	BaseURL  = "http://127.0.0.1:7760"
	password string
)

type APIResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

const origin = "https://api-test.abcfe.local"

func main() {
	flag.StringVar(&BaseURL, "url", BaseURL, "Background base URL")
	flag.StringVar(&password, "password", os.Getenv("ABCFE_WALLET_PASSWORD"), "Vault password")
	flag.Parse()

	if password == "" {
		panic("a vault password is required (--password or $ABCFE_WALLET_PASSWORD)")
	}

	fmt.Println("=== Starting dapp API Test ===")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// 1. Open a UI channel; it plays the user approving requests
	fmt.Println("\n[1] Opening UI channel...")
	wsURL := "ws" + BaseURL[len("http"):]
	f := session.New(transport.DialWS(wsURL), session.DefaultOptions())
	f.Start(ctx)
	defer f.Close()
	if err := f.WaitConnected(ctx); err != nil {
		panic(fmt.Sprintf("Failed to connect: %v", err))
	}

	st, err := f.Status(ctx)
	if err != nil {
		panic(fmt.Sprintf("Failed to get status: %v", err))
	}
	fmt.Printf("Keyring: %s, migration: %s\n", st.State, st.Migration)
	if st.State == message.StateUninitialized {
		fmt.Println("Creating vault...")
		if err := f.CreateVault(ctx, password, nil); err != nil {
			panic(fmt.Sprintf("Failed to create vault: %v", err))
		}
	}
	if err := f.Unlock(ctx, password); err != nil {
		panic(fmt.Sprintf("Failed to unlock: %v", err))
	}

	// 2. Dapp asks for permissions over REST
	fmt.Println("\n[2] Requesting permission via /dapp/permissions...")
	var pr message.PermissionRequest
	post("/api/v1/dapp/permissions", map[string]interface{}{
		"origin":      origin,
		"permissions": []string{"viewAccount", "signData"},
	}, &pr)
	fmt.Printf("Permission request: %s\n", pr.ID)

	if err := f.RespondPermission(ctx, message.PermissionResponse{ID: pr.ID, Allowed: true}); err != nil {
		panic(fmt.Sprintf("Failed to approve permission: %v", err))
	}
	get("/api/v1/dapp/permissions/"+pr.ID, &pr)
	if !pr.Allowed || len(pr.Accounts) == 0 {
		panic(fmt.Sprintf("Permission not granted: %+v", pr))
	}
	account := pr.Accounts[0]
	fmt.Printf("Granted account: %s\n", account)

	// 3. Dapp asks for a signature
	fmt.Println("\n[3] Requesting signature via /dapp/transactions...")
	payload := []byte("api test payload " + time.Now().Format(time.RFC3339))
	var tx message.TransactionRequest
	post("/api/v1/dapp/transactions", map[string]interface{}{
		"origin":    origin,
		"accountId": account,
		"data":      payload,
	}, &tx)
	fmt.Printf("Transaction request: %s\n", tx.ID)

	if err := f.RespondTransaction(ctx, tx.ID, true); err != nil {
		panic(fmt.Sprintf("Failed to approve transaction: %v", err))
	}
	get("/api/v1/dapp/transactions/"+tx.ID, &tx)
	if len(tx.Signature) == 0 {
		panic("Transaction settled without a signature")
	}
	fmt.Printf("Signature: %s\n", utils.BytesToHex(tx.Signature))

	// 4. Verify against the stored public key
	fmt.Println("\n[4] Verifying signature...")
	ents, err := f.GetStoredEntities(ctx, keyring.EntityAccounts)
	if err != nil {
		panic(fmt.Sprintf("Failed to list accounts: %v", err))
	}
	for _, a := range ents.Accounts {
		if a.ID != account {
			continue
		}
		raw, err := utils.HexToBytes(a.PublicKey)
		if err != nil {
			panic(fmt.Sprintf("Bad public key: %v", err))
		}
		pub, err := crypto.BytesToPublicKey(raw)
		if err != nil {
			panic(fmt.Sprintf("Bad public key: %v", err))
		}
		if crypto.VerifySignature(pub, payload, tx.Signature) {
			fmt.Println("✓ Signature valid")
		} else {
			fmt.Println("✗ Signature INVALID")
		}
	}

	// 5. Disconnect the dapp
	if err := f.DisconnectApp(ctx, origin); err != nil {
		fmt.Printf("Disconnect failed: %v\n", err)
	}

	fmt.Println("\n=== API Test Finished ===")
}

func post(path string, body interface{}, out interface{}) {
	b, _ := json.Marshal(body)
	resp, err := http.Post(BaseURL+path, "application/json", bytes.NewBuffer(b))
	if err != nil {
		panic(fmt.Sprintf("POST %s: %v", path, err))
	}
	decode(path, resp, out)
}

func get(path string, out interface{}) {
	resp, err := http.Get(BaseURL + path)
	if err != nil {
		panic(fmt.Sprintf("GET %s: %v", path, err))
	}
	decode(path, resp, out)
}

func decode(path string, resp *http.Response, out interface{}) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		panic(fmt.Sprintf("%s: bad response %s", path, string(body)))
	}
	if !apiResp.Success {
		panic(fmt.Sprintf("%s: %s (%s)", path, apiResp.Error, apiResp.Code))
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		panic(fmt.Sprintf("%s: %v", path, err))
	}
}
