package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// chatr refuses to start with a shorter SECRET_KEY
const minSecretKeyBytesLen = 32

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// run prints a hex encoded random key suitable for SECRET_KEY
func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	length := fs.IntP("bytes", "n", minSecretKeyBytesLen, "Number of random bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *length < minSecretKeyBytesLen {
		return fmt.Errorf("key must be at least %d bytes, got %d", minSecretKeyBytesLen, *length)
	}

	b := make([]byte, *length)
	if _, err := rand.Read(b); err != nil {
		return err
	}

	_, err := fmt.Fprintln(out, hex.EncodeToString(b))
	return err
}
