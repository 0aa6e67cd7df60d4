package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookhold/crypto"
	"bookhold/escrow"
	"bookhold/rpc"
)

type rpcErrorPayload struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponsePayload struct {
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *rpcErrorPayload `json:"error,omitempty"`
}

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}

	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "get":
		return runEscrowSimple("escrow_get", args[1:], stdout, stderr)
	case "submit-evidence":
		return runEscrowSubmitEvidence(args[1:], stdout, stderr)
	case "approve":
		return runEscrowSimple("escrow_approve", args[1:], stdout, stderr)
	case "reject":
		return runEscrowReject(args[1:], stdout, stderr)
	case "claim-timeout":
		return runEscrowSimple("escrow_claimTimeout", args[1:], stdout, stderr)
	case "reclaim":
		return runEscrowSimple("escrow_reclaimExpired", args[1:], stdout, stderr)
	case "windows":
		return runEscrowWindows(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return `Usage: hold-cli escrow <subcommand>

Subcommands:
  create          --id --beneficiary --agent --amount [--meta]
  get             --id
  submit-evidence --id --evidence
  approve         --id
  reject          --id --reason
  claim-timeout   --id
  reclaim         --id
  windows         --id`
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow create", stderr)
	var (
		id          string
		beneficiary string
		agent       string
		amount      string
		meta        string
	)
	fs.StringVar(&id, "id", "", "0x-prefixed 32-byte escrow id")
	fs.StringVar(&beneficiary, "beneficiary", "", "beneficiary bech32 address")
	fs.StringVar(&agent, "agent", "", "agent bech32 address")
	fs.StringVar(&amount, "amount", "", "escrow amount in base units")
	fs.StringVar(&meta, "meta", "", "optional 0x-prefixed metadata hash")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	for flagName, value := range map[string]string{"--id": id, "--beneficiary": beneficiary, "--agent": agent, "--amount": amount} {
		if strings.TrimSpace(value) == "" {
			fmt.Fprintf(stderr, "Error: %s is required\n", flagName)
			return 1
		}
	}
	params := map[string]string{
		"id":          id,
		"beneficiary": beneficiary,
		"agent":       agent,
		"amount":      amount,
	}
	if strings.TrimSpace(meta) != "" {
		params["metaHash"] = meta
	}
	return callAndPrint("escrow_create", params, stdout, stderr)
}

func runEscrowSubmitEvidence(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow submit-evidence", stderr)
	var id, evidence string
	fs.StringVar(&id, "id", "", "0x-prefixed 32-byte escrow id")
	fs.StringVar(&evidence, "evidence", "", "0x-prefixed 32-byte evidence bundle hash")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(evidence) == "" {
		fmt.Fprintln(stderr, "Error: --id and --evidence are required")
		return 1
	}
	return callAndPrint("escrow_submitEvidence", map[string]string{"id": id, "evidenceHash": evidence}, stdout, stderr)
}

func runEscrowReject(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow reject", stderr)
	var id, reason string
	fs.StringVar(&id, "id", "", "0x-prefixed 32-byte escrow id")
	fs.StringVar(&reason, "reason", "", "0x-prefixed 32-byte rejection reason hash")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(id) == "" || strings.TrimSpace(reason) == "" {
		fmt.Fprintln(stderr, "Error: --id and --reason are required")
		return 1
	}
	return callAndPrint("escrow_reject", map[string]string{"id": id, "reasonHash": reason}, stdout, stderr)
}

func runEscrowSimple(method string, args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet(method, stderr)
	var id string
	fs.StringVar(&id, "id", "", "0x-prefixed 32-byte escrow id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	return callAndPrint(method, map[string]string{"id": id}, stdout, stderr)
}

func runEscrowWindows(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow windows", stderr)
	var id string
	fs.StringVar(&id, "id", "", "0x-prefixed 32-byte escrow id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(id) == "" {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	params := map[string]string{"id": id}
	for _, method := range []string{"escrow_evidenceDeadlineAt", "escrow_disputeWindowEndsAt", "escrow_canClaimTimeout"} {
		result, err := callRPC(method, params)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%s: %s\n", method, string(result))
	}
	return 0
}

func runMintToken(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("mint-token", stderr)
	var secret, caller, ttl string
	fs.StringVar(&secret, "secret", "", "HMAC secret shared with the daemon")
	fs.StringVar(&caller, "caller", "", "caller bech32 address (token subject)")
	fs.StringVar(&ttl, "ttl", "15m", "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(caller) == "" {
		fmt.Fprintln(stderr, "Error: --secret and --caller are required")
		return 1
	}
	lifetime, err := time.ParseDuration(ttl)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --ttl: %v\n", err)
		return 1
	}
	token, err := rpc.MintToken(secret, "", "", caller, lifetime)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func runDeriveID(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("derive-id", stderr)
	var payer, ref, nonceStr string
	fs.StringVar(&payer, "payer", "", "payer bech32 address")
	fs.StringVar(&ref, "ref", "", "external booking reference")
	fs.StringVar(&nonceStr, "nonce", "", "unique nonce for this escrow")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(payer) == "" || strings.TrimSpace(ref) == "" || strings.TrimSpace(nonceStr) == "" {
		fmt.Fprintln(stderr, "Error: --payer, --ref and --nonce are required")
		return 1
	}
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(payer))
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --payer: %v\n", err)
		return 1
	}
	nonce, err := strconv.ParseUint(strings.TrimSpace(nonceStr), 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid --nonce: %v\n", err)
		return 1
	}
	var payerBytes [20]byte
	copy(payerBytes[:], decoded.Bytes())
	id := escrow.DeriveID(payerBytes, []byte(ref), nonce)
	fmt.Fprintln(stdout, formatHash(id))
	return 0
}

func generateKey() {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		return
	}
	fmt.Printf("Address:     %s\n", key.PubKey().Address().String())
	fmt.Printf("Private key: %s\n", hex.EncodeToString(key.Bytes()))
}

func getBalance(address string) {
	result, err := callRPC("hold_getBalance", map[string]string{"address": address})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Balance: %s\n", string(result))
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func callAndPrint(method string, params interface{}, stdout, stderr io.Writer) int {
	result, err := callRPC(method, params)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(result))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func callRPC(method string, params interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(rpcAuthToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(rpcAuthToken))
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	parsed := rpcResponsePayload{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid RPC response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%s (code %d): %s", parsed.Error.Message, parsed.Error.Code, string(parsed.Error.Data))
	}
	return parsed.Result, nil
}
