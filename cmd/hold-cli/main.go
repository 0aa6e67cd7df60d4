package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Defaults to localhost, can be overridden via HOLD_RPC_URL or --rpc flag.
var rpcEndpoint = defaultRPCEndpoint()
var rpcAuthToken = os.Getenv("HOLD_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	command := args[0]
	switch command {
	case "generate-key":
		generateKey()
	case "mint-token":
		os.Exit(runMintToken(args[1:], os.Stdout, os.Stderr))
	case "derive-id":
		os.Exit(runDeriveID(args[1:], os.Stdout, os.Stderr))
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		getBalance(args[1])
	case "escrow":
		os.Exit(runEscrowCommand(args[1:], os.Stdout, os.Stderr))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("HOLD_RPC_URL")); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func printUsage() {
	fmt.Println(`Usage: hold-cli [--rpc <url>] <command>

Commands:
  generate-key                       Generate a new keypair and print the address
  mint-token --secret ... --caller   Mint a caller JWT for the RPC server
  derive-id  --payer ... --ref ...   Compute a deterministic escrow id
  balance <address>                  Query an account balance
  escrow <subcommand>                Escrow operations (create, get, submit-evidence,
                                     approve, reject, claim-timeout, reclaim, windows)

Environment:
  HOLD_RPC_URL    RPC endpoint (default http://localhost:8080)
  HOLD_RPC_TOKEN  Bearer token attached to mutating calls`)
}

func formatHash(h [32]byte) string {
	return "0x" + hex.EncodeToString(h[:])
}
