// simulate_bureau fabricates a signed scanning bureau delivery and drops it
// into an input container, so the pipeline can be exercised end to end
// without real bureau hardware. With -api set it then polls the processor
// and prints the envelope's progress as events land.
//
// Without a connection string the outer archive is written to disk instead,
// ready for azcopy or the storage emulator.
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/internal/zipverify"
	"github.com/uk-gov-mirror/hmcts.bulk-scan-processor/pkg/client"
)

type metadataFile struct {
	PoBox              string       `json:"po_box"`
	Jurisdiction       string       `json:"jurisdiction"`
	DeliveryDate       string       `json:"delivery_date"`
	OpeningDate        string       `json:"opening_date"`
	ZipFileCreatedDate string       `json:"zip_file_createddate"`
	ZipFileName        string       `json:"zip_file_name"`
	CaseNumber         string       `json:"case_number"`
	Classification     string       `json:"envelope_classification"`
	ScannableItems     []scannedDoc `json:"scannable_items"`
}

type scannedDoc struct {
	DocumentControlNumber string `json:"document_control_number"`
	ScanningDate          string `json:"scanning_date"`
	FileName              string `json:"file_name"`
	DocumentType          string `json:"document_type"`
}

func main() {
	container := flag.String("container", "bulkscan", "input container / jurisdiction bucket")
	jurisdiction := flag.String("jurisdiction", "BULKSCAN", "jurisdiction declared in the metafile")
	poBox := flag.String("pobox", "PO 12345", "PO box declared in the metafile")
	classification := flag.String("classification", "NEW_APPLICATION", "envelope classification")
	docs := flag.Int("docs", 2, "number of scanned documents in the delivery")
	seq := flag.Int("seq", 1, "bureau sequence number used in the zip file name")
	keyPath := flag.String("key", "", "signing key (PEM); an ephemeral key is generated when empty")
	connStr := flag.String("connection-string", os.Getenv("AZURE_STORAGE_CONNECTION_STRING"),
		"storage account connection string; write to -out when empty")
	outDir := flag.String("out", ".", "directory for the archive when not uploading")
	apiURL := flag.String("api", "", "processor API base URL to poll for the envelope's progress")
	flag.Parse()

	now := time.Now().UTC()
	zipName := fmt.Sprintf("%d_%s.zip", *seq, now.Format("02-01-2006-15-04-05"))

	fmt.Printf("Bureau delivery: %s (%d documents, %s/%s)\n",
		zipName, *docs, *container, *classification)

	inner, err := buildInnerArchive(zipName, *poBox, *jurisdiction, *classification, *docs, now)
	if err != nil {
		log.Fatalf("build inner archive: %v", err)
	}

	key, err := loadOrGenerateKey(*keyPath)
	if err != nil {
		log.Fatalf("signing key: %v", err)
	}
	sig, err := zipverify.Sign(inner, key)
	if err != nil {
		log.Fatalf("sign inner archive: %v", err)
	}
	outer, err := zipverify.WrapArchive(inner, sig)
	if err != nil {
		log.Fatalf("wrap outer archive: %v", err)
	}
	fmt.Printf("Signed outer archive: %d bytes\n", len(outer))

	if *connStr == "" {
		target := filepath.Join(*outDir, zipName)
		if err := os.WriteFile(target, outer, 0o644); err != nil {
			log.Fatalf("write archive: %v", err)
		}
		fmt.Printf("No connection string; archive written to %s\n", target)
	} else {
		azc, err := azblob.NewClientFromConnectionString(*connStr, nil)
		if err != nil {
			log.Fatalf("connect blob storage: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := azc.UploadBuffer(ctx, *container, zipName, outer, nil); err != nil {
			log.Fatalf("upload archive: %v", err)
		}
		fmt.Printf("Uploaded to container %s\n", *container)
	}

	if *apiURL != "" {
		watchProgress(*apiURL, zipName)
	}
}

func buildInnerArchive(zipName, poBox, jurisdiction, classification string, docs int, now time.Time) ([]byte, error) {
	meta := metadataFile{
		PoBox:              poBox,
		Jurisdiction:       jurisdiction,
		DeliveryDate:       now.Add(-2 * time.Hour).Format("2006-01-02T15:04:05.000Z"),
		OpeningDate:        now.Add(-time.Hour).Format("2006-01-02T15:04:05.000Z"),
		ZipFileCreatedDate: now.Format("2006-01-02 15:04:05"),
		ZipFileName:        zipName,
		CaseNumber:         fmt.Sprintf("%d", now.UnixNano()%10_000_000_000),
		Classification:     classification,
	}

	dcnBase := now.UnixNano() / int64(time.Millisecond) % 1_000_000_000
	for i := 0; i < docs; i++ {
		dcn := fmt.Sprintf("%010d", dcnBase+int64(i))
		meta.ScannableItems = append(meta.ScannableItems, scannedDoc{
			DocumentControlNumber: dcn,
			ScanningDate:          now.Format("2006-01-02T15:04:05.000Z"),
			FileName:              dcn + ".pdf",
			DocumentType:          "Other",
		})
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("metadata.json")
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(metaBytes); err != nil {
		return nil, err
	}
	for _, item := range meta.ScannableItems {
		w, err := zw.Create(item.FileName)
		if err != nil {
			return nil, err
		}
		pdf := fmt.Sprintf("%%PDF-1.4\n%% simulated scan %s\n%%%%EOF\n", item.DocumentControlNumber)
		if _, err := w.Write([]byte(pdf)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// loadOrGenerateKey reads a PKCS#1/PKCS#8 PEM key, or mints a throwaway one
// and prints its public half so the processor can be pointed at it.
func loadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
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
			return nil, err
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s does not hold an RSA key", path)
		}
		return key, nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	fmt.Println("Ephemeral signing key generated; the processor will reject the")
	fmt.Println("signature unless configured with this public key:")
	fmt.Println(base64.StdEncoding.EncodeToString(der))
	return key, nil
}

// watchProgress polls the zip file status until the processor has either
// created an envelope or rejected the archive.
func watchProgress(apiURL, zipName string) {
	c := client.New(client.Config{BaseURL: apiURL})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Printf("Polling %s for %s\n", apiURL, zipName)
	seen := 0
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("Gave up waiting; check the processor logs.")
			return
		case <-ticker.C:
			status, err := c.ZipFileStatus(ctx, zipName)
			if err != nil {
				fmt.Printf("status lookup failed: %v\n", err)
				continue
			}
			for _, ev := range status.Events[seen:] {
				fmt.Printf("  event: %-32s %s\n", ev.Type, ev.CreatedAt.Format(time.RFC3339))
				if ev.Reason != "" {
					fmt.Printf("         reason: %s\n", ev.Reason)
				}
			}
			seen = len(status.Events)
			for _, env := range status.Envelopes {
				fmt.Printf("Envelope %s is %s\n", env.ID, env.Status)
				return
			}
			for _, ev := range status.Events {
				if ev.Type == "FILE_VALIDATION_FAILURE" || ev.Type == "DOC_SIGNATURE_FAILURE" {
					fmt.Println("Archive rejected.")
					return
				}
			}
		}
	}
}
