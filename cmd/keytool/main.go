// Command keytool manages the Fernet key that protects identity passwords.
//
//	keytool -generate
//	FERNET_SECRET_KEY=... keytool -encrypt 'secret'
//	FERNET_SECRET_KEY=... keytool -decrypt 'gAAAA...'
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/hackgods/consul-visit-booker/internal/identity"
)

var errUsage = errors.New("exactly one of -generate, -encrypt or -decrypt is required")

func main() {
	if err := run(os.Args[1:], os.Getenv("FERNET_SECRET_KEY"), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "keytool:", err)
		os.Exit(2)
	}
}

func run(args []string, envKey string, out io.Writer) error {
	fs := flag.NewFlagSet("keytool", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		generate = fs.Bool("generate", false, "print a new key")
		encrypt  = fs.Bool("encrypt", false, "encrypt the argument")
		decrypt  = fs.Bool("decrypt", false, "decrypt the argument")
		key      = fs.String("key", envKey, "Fernet key, defaults to FERNET_SECRET_KEY")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	modes := 0
	for _, on := range []bool{*generate, *encrypt, *decrypt} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return errUsage
	}

	if *generate {
		k, err := identity.GenerateKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, k)
		return err
	}

	if fs.NArg() != 1 {
		return errors.New("expected one value argument")
	}
	if *key == "" {
		return errors.New("no key: set FERNET_SECRET_KEY or pass -key")
	}

	var (
		res string
		err error
	)
	if *encrypt {
		res, err = identity.Encrypt(fs.Arg(0), *key)
	} else {
		res, err = identity.Decrypt(fs.Arg(0), *key)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, res)
	return err
}
