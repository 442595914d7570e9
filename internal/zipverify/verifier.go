// Package zipverify parses the signed outer archive and verifies its
// detached signature before any content is trusted.
package zipverify

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// Outer archive entry names, matched case-insensitively.
	EnvelopeEntry  = "envelope.zip"
	SignatureEntry = "signature"

	AlgorithmSha256WithRsa = "sha256withrsa"
	AlgorithmNone          = "none"
)

// SignatureError is the typed rejection for an archive whose outer layout or
// signature is not acceptable. The whole archive is untrusted at this point,
// so the error carries only blob identifiers.
type SignatureError struct {
	Container   string
	ZipFileName string
	Reason      string
}

func (e *SignatureError) Error() string {
	return e.Reason
}

// Archive couples the raw outer zip bytes with the identifiers of the blob
// they came from.
type Archive struct {
	Container   string
	ZipFileName string
	Data        []byte
}

// Verifier checks outer archives against the bureau's published RSA key.
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier builds a verifier for the configured algorithm selector.
// "sha256withrsa" requires the base64-encoded DER SubjectPublicKeyInfo of an
// RSA key; "none" disables verification and is meant for test profiles only.
func NewVerifier(algorithm, publicKeyBase64 string) (*Verifier, error) {
	switch algorithm {
	case AlgorithmNone:
		return &Verifier{}, nil
	case AlgorithmSha256WithRsa:
		pub, err := decodePublicKey(publicKeyBase64)
		if err != nil {
			return nil, err
		}
		return &Verifier{pub: pub}, nil
	default:
		return nil, fmt.Errorf("Undefined signature verification algorithm")
	}
}

func decodePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode public key base64: %w", err)
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", key)
	}
	return pub, nil
}

// Verify checks the outer archive layout and signature. On success it
// returns a reader over the inner envelope archive.
func (v *Verifier) Verify(a Archive) (*zip.Reader, error) {
	outer, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	if err != nil {
		return nil, v.fail(a, fmt.Sprintf("Invalid zip archive: %v", err))
	}

	var innerEntry, sigEntry *zip.File
	names := make([]string, 0, len(outer.File))
	for _, f := range outer.File {
		names = append(names, f.Name)
		switch strings.ToLower(f.Name) {
		case EnvelopeEntry:
			innerEntry = f
		case SignatureEntry:
			sigEntry = f
		}
	}
	if len(outer.File) != 2 || innerEntry == nil || sigEntry == nil {
		return nil, v.fail(a, fmt.Sprintf(
			"Zip entries do not match expected file names. Actual names = [%s]",
			strings.Join(names, ", ")))
	}

	inner, err := readAll(innerEntry)
	if err != nil {
		return nil, v.fail(a, fmt.Sprintf("Unable to read %s: %v", EnvelopeEntry, err))
	}
	sig, err := readAll(sigEntry)
	if err != nil {
		return nil, v.fail(a, fmt.Sprintf("Unable to read %s: %v", SignatureEntry, err))
	}

	if v.pub != nil {
		digest := sha256.Sum256(inner)
		if err := rsa.VerifyPKCS1v15(v.pub, crypto.SHA256, digest[:], sig); err != nil {
			return nil, v.fail(a, "Zip signature failed verification")
		}
	}

	zr, err := zip.NewReader(bytes.NewReader(inner), int64(len(inner)))
	if err != nil {
		return nil, v.fail(a, fmt.Sprintf("Invalid inner archive: %v", err))
	}
	return zr, nil
}

func (v *Verifier) fail(a Archive, reason string) *SignatureError {
	return &SignatureError{
		Container:   a.Container,
		ZipFileName: a.ZipFileName,
		Reason:      reason,
	}
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
