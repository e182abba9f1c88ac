package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tjfontaine/twin-gateway/internal/signing"
)

const defaultServiceName = "digital-twin"

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  go run cmd/keygen/main.go secret")
	fmt.Println("      Generates a random HMAC secret for dify.hmac.secret_key")
	fmt.Println("  go run cmd/keygen/main.go sign <secret> [service-name] [timestamp-ms]")
	fmt.Println("      Prints the signature headers the gateway would send")
	fmt.Println("  go run cmd/keygen/main.go verify <secret> <timestamp-ms> <signature> [service-name]")
	fmt.Println("      Checks a captured X-Signature against the secret")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "secret":
		generateSecret()
	case "sign":
		if len(os.Args) < 3 {
			usage()
		}
		sign(os.Args[2:])
	case "verify":
		if len(os.Args) < 5 {
			usage()
		}
		verify(os.Args[2:])
	default:
		usage()
	}
}

func generateSecret() {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read random bytes: %v\n", err)
		os.Exit(1)
	}
	secret := hex.EncodeToString(buf)

	fmt.Printf("HMAC Secret: %s\n", secret)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("  dify:\n")
	fmt.Printf("    hmac:\n")
	fmt.Printf("      enabled: true\n")
	fmt.Printf("      secret_key: \"${DIFY_HMAC_SECRET}\"\n")
	fmt.Printf("\nand export DIFY_HMAC_SECRET=%s\n", secret)
}

func sign(args []string) {
	secret := args[0]
	serviceName := defaultServiceName
	if len(args) > 1 {
		serviceName = args[1]
	}
	now := time.Now()
	if len(args) > 2 {
		ms, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid timestamp %q: %v\n", args[2], err)
			os.Exit(1)
		}
		now = time.UnixMilli(ms)
	}

	signer := signing.New("<api-key>", serviceName, signing.WithHMAC(secret))
	headers := signer.Headers(now)

	fmt.Printf("%s: %s\n", signing.HeaderSignatureTimestamp, headers.Get(signing.HeaderSignatureTimestamp))
	fmt.Printf("%s: %s\n", signing.HeaderSignature, headers.Get(signing.HeaderSignature))
}

func verify(args []string) {
	secret, timestamp, signature := args[0], args[1], args[2]
	serviceName := defaultServiceName
	if len(args) > 3 {
		serviceName = args[3]
	}

	payload := signing.New("", serviceName).Payload(timestamp)
	if !signing.Verify(payload, secret, signature) {
		fmt.Println("signature does NOT match")
		os.Exit(1)
	}
	fmt.Println("signature OK")
}
