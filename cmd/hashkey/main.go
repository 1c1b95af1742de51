// Command hashkey mints a gateway API key and prints its argon2id hash for
// auth.api_key_hash. An existing key can be passed as the only argument.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ncecere/voice_gateway/internal/auth"
)

func main() {
	key := ""
	if len(os.Args) > 1 {
		key = strings.TrimSpace(os.Args[1])
	}
	if key == "" {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			log.Fatalf("generate key: %v", err)
		}
		key = generated
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		log.Fatalf("hash key: %v", err)
	}

	fmt.Printf("api_key:      %s\n", key)
	fmt.Printf("fingerprint:  %s\n", auth.Fingerprint(key))
	fmt.Printf("api_key_hash: %s\n", hash)
}
