package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultSecretKeyBytesLen = 32

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// Print random secret key suitable for SECRET_KEY
func run(args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	size := fs.IntP("bytes", "b", defaultSecretKeyBytesLen, "Secret length in bytes")
	format := fs.StringP("format", "f", "hex", "Output format (hex, base64)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *size < 16 {
		return fmt.Errorf("secret must be at least 16 bytes, got %d", *size)
	}

	b := make([]byte, *size)
	if _, err := rand.Read(b); err != nil {
		return err
	}

	switch *format {
	case "hex":
		_, err := fmt.Fprintln(out, hex.EncodeToString(b))
		return err
	case "base64":
		_, err := fmt.Fprintln(out, base64.RawURLEncoding.EncodeToString(b))
		return err
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
}
