package zipverify

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// Sign produces the detached SHA-256/RSA signature over the inner archive
// bytes, as carried in the outer archive's signature entry.
func Sign(inner []byte, key *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(inner)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign inner archive: %w", err)
	}
	return sig, nil
}

// WrapArchive builds an outer archive from inner archive bytes and their
// signature. The inverse of Verify; used by the signing tool and tests.
func WrapArchive(inner, signature []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	entries := []struct {
		name string
		data []byte
	}{
		{EnvelopeEntry, inner},
		{SignatureEntry, signature},
	}
	for _, e := range entries {
		f, err := w.Create(e.name)
		if err != nil {
			return nil, fmt.Errorf("create outer entry %s: %w", e.name, err)
		}
		if _, err := f.Write(e.data); err != nil {
			return nil, fmt.Errorf("write outer entry %s: %w", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
