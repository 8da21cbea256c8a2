// Command keyhash prints the bcrypt hash of an internal API key, ready for
// INTERNAL_API_KEY_HASH.
//
//	go run ./cmd/keyhash <key>   # hash an existing key
//	go run ./cmd/keyhash         # generate a key, print it and its hash
package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/sakif/reroom-bff/internal/auth"
)

func main() {
	key := ""
	if len(os.Args) > 1 {
		key = os.Args[1]
	} else {
		key = rand.Text()
		fmt.Printf("key:  %s\n", key)
	}

	hash, err := auth.NewKeyHasher().Hash(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("hash: %s\n", hash)
}
