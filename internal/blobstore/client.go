// Package blobstore wraps the Azure blob account holding the per-jurisdiction
// input containers. All cross-replica exclusion is built on blob leases
// acquired here.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/lease"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "blobstore")

// ErrBlobBusy signals that another replica holds the lease. Callers skip the
// blob and retry on a later tick.
var ErrBlobBusy = errors.New("blob lease is held elsewhere")

// RejectedContainerName returns the sibling container that receives archives
// failing validation.
func RejectedContainerName(container string) string {
	return container + "-rejected"
}

// Properties is the subset of blob attributes the pipeline inspects.
type Properties struct {
	LastModified time.Time
	Size         int64
}

// Gateway is the blob-store surface consumed by the pipeline drivers.
type Gateway interface {
	ListArchives(ctx context.Context, container string) ([]string, error)
	Properties(ctx context.Context, container, name string) (Properties, error)
	AcquireLease(ctx context.Context, container, name string) (string, error)
	ReleaseLease(ctx context.Context, container, name, leaseID string)
	Download(ctx context.Context, container, name, leaseID string) ([]byte, error)
	DeleteIfExists(ctx context.Context, container, name, leaseID string) error
	MoveToRejected(ctx context.Context, container, name, leaseID string) error
}

// Client implements Gateway against an Azure storage account.
type Client struct {
	azure    *azblob.Client
	leaseTTL int32
}

// NewClient connects using the account connection string. Lease TTL is in
// seconds and must respect Azure's 15..60 bounds; it is the ceiling on one
// archive's processing time.
func NewClient(connectionString string, leaseTTLSeconds int) (*Client, error) {
	azc, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("connect blob storage: %w", err)
	}
	return &Client{azure: azc, leaseTTL: int32(leaseTTLSeconds)}, nil
}

func (c *Client) blobClient(container, name string) *blob.Client {
	return c.azure.ServiceClient().NewContainerClient(container).NewBlobClient(name)
}

func (c *Client) ListArchives(ctx context.Context, container string) ([]string, error) {
	var names []string
	pager := c.azure.NewListBlobsFlatPager(container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list container %s: %w", container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (c *Client) Properties(ctx context.Context, container, name string) (Properties, error) {
	resp, err := c.blobClient(container, name).GetProperties(ctx, nil)
	if err != nil {
		return Properties{}, fmt.Errorf("blob properties %s/%s: %w", container, name, err)
	}
	props := Properties{}
	if resp.LastModified != nil {
		props.LastModified = *resp.LastModified
	}
	if resp.ContentLength != nil {
		props.Size = *resp.ContentLength
	}
	return props, nil
}

// AcquireLease claims the blob for one processing pass. A lease already held
// by a peer comes back as ErrBlobBusy, which is not a failure.
func (c *Client) AcquireLease(ctx context.Context, container, name string) (string, error) {
	leaseClient, err := lease.NewBlobClient(c.blobClient(container, name), nil)
	if err != nil {
		return "", fmt.Errorf("lease client %s/%s: %w", container, name, err)
	}
	resp, err := leaseClient.AcquireLease(ctx, c.leaseTTL, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.LeaseAlreadyPresent) {
			return "", ErrBlobBusy
		}
		return "", fmt.Errorf("acquire lease %s/%s: %w", container, name, err)
	}
	if resp.LeaseID == nil {
		return "", fmt.Errorf("acquire lease %s/%s: no lease id returned", container, name)
	}
	return *resp.LeaseID, nil
}

// ReleaseLease is best-effort; an expired or lost lease is not worth failing
// over since leases self-expire.
func (c *Client) ReleaseLease(ctx context.Context, container, name, leaseID string) {
	leaseClient, err := lease.NewBlobClient(c.blobClient(container, name), &lease.BlobClientOptions{
		LeaseID: to.Ptr(leaseID),
	})
	if err != nil {
		log.WithError(err).Warnf("lease client for release %s/%s", container, name)
		return
	}
	if _, err := leaseClient.ReleaseLease(ctx, nil); err != nil {
		if !bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.LeaseIDMismatchWithLeaseOperation) {
			log.WithError(err).Warnf("release lease %s/%s", container, name)
		}
	}
}

func (c *Client) Download(ctx context.Context, container, name, leaseID string) ([]byte, error) {
	resp, err := c.blobClient(container, name).DownloadStream(ctx, &blob.DownloadStreamOptions{
		AccessConditions: leaseAccess(leaseID),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", container, name, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", container, name, err)
	}
	return data, nil
}

func (c *Client) DeleteIfExists(ctx context.Context, container, name, leaseID string) error {
	_, err := c.blobClient(container, name).Delete(ctx, &blob.DeleteOptions{
		AccessConditions: leaseAccess(leaseID),
	})
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete %s/%s: %w", container, name, err)
	}
	return nil
}

// MoveToRejected copies the archive into the sibling rejected container,
// overwriting any previous rejection of the same name, then deletes the
// source under the lease.
func (c *Client) MoveToRejected(ctx context.Context, container, name, leaseID string) error {
	data, err := c.Download(ctx, container, name, leaseID)
	if err != nil {
		return err
	}
	rejected := RejectedContainerName(container)
	if _, err := c.azure.UploadBuffer(ctx, rejected, name, data, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", rejected, name, err)
	}
	if err := c.DeleteIfExists(ctx, container, name, leaseID); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"container":     container,
		"zip_file_name": name,
	}).Info("moved rejected archive")
	return nil
}

func leaseAccess(leaseID string) *blob.AccessConditions {
	if leaseID == "" {
		return nil
	}
	return &blob.AccessConditions{
		LeaseAccessConditions: &blob.LeaseAccessConditions{LeaseID: to.Ptr(leaseID)},
	}
}
