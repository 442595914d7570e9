// signtool is the operator utility for the archive signing scheme: it
// generates RSA keypairs, wraps an inner envelope archive and its signature
// into the outer format the processor ingests, and verifies existing outer
// archives against a public key.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/zipverify"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = cmdKeygen(os.Args[2:])
	case "sign":
		err = cmdSign(os.Args[2:])
	case "verify":
		err = cmdVerify(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Archive signing tool

Usage: signtool <command> [flags]

Commands:
  keygen    Generate an RSA keypair for archive signing
  sign      Sign an inner archive and wrap it into the outer format
  verify    Verify an outer archive against a public key

Run 'signtool <command> -h' for the flags of each command.`)
}

func cmdKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "signing", "output file prefix")
	bits := fs.Int("bits", 2048, "RSA key size")
	fs.Parse(args)

	key, err := rsa.GenerateKey(rand.Reader, *bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	privPem := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	privPath := *out + ".pem"
	if err := os.WriteFile(privPath, privPem, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	pubPath := *out + ".pub"
	encoded := base64.StdEncoding.EncodeToString(der) + "\n"
	if err := os.WriteFile(pubPath, []byte(encoded), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Printf("Private key: %s\nPublic key:  %s\n", privPath, pubPath)
	fmt.Println("Point signature.public_key_file at the public key.")
	return nil
}

func cmdSign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	keyPath := fs.String("key", "", "private key file (PEM)")
	in := fs.String("in", "", "inner archive to sign")
	out := fs.String("out", "", "output path (default: <in name> next to the inner archive)")
	fs.Parse(args)
	if *keyPath == "" || *in == "" {
		return fmt.Errorf("both -key and -in are required")
	}

	key, err := readPrivateKey(*keyPath)
	if err != nil {
		return err
	}
	inner, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read inner archive: %w", err)
	}

	sig, err := zipverify.Sign(inner, key)
	if err != nil {
		return err
	}
	outer, err := zipverify.WrapArchive(inner, sig)
	if err != nil {
		return err
	}

	target := *out
	if target == "" {
		target = filepath.Join(filepath.Dir(*in), "signed_"+filepath.Base(*in))
	}
	if err := os.WriteFile(target, outer, 0o644); err != nil {
		return fmt.Errorf("write outer archive: %w", err)
	}
	fmt.Printf("Signed archive: %s\n", target)
	return nil
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	pubPath := fs.String("pub", "", "public key file (base64 DER)")
	in := fs.String("in", "", "outer archive to verify")
	fs.Parse(args)
	if *pubPath == "" || *in == "" {
		return fmt.Errorf("both -pub and -in are required")
	}

	encoded, err := os.ReadFile(*pubPath)
	if err != nil {
		return fmt.Errorf("read public key: %w", err)
	}
	verifier, err := zipverify.NewVerifier(zipverify.AlgorithmSha256WithRsa,
		strings.TrimSpace(string(encoded)))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read outer archive: %w", err)
	}
	if _, err := verifier.Verify(zipverify.Archive{
		ZipFileName: filepath.Base(*in),
		Data:        data,
	}); err != nil {
		return err
	}
	fmt.Println("Signature OK")
	return nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s does not hold an RSA key", path)
	}
	return key, nil
}
