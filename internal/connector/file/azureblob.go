package file

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/rakunlabs/ingestcore/internal/connector"
)

// AzureBlob connects to an Azure Blob Storage container: connection-string,
// account-key, or SAS-token authentication, prefix filtering, and
// archive-by-copy-then-delete.
type AzureBlob struct {
	base
	containerClient *container.Client
}

// NewAzureBlob builds an Azure Blob file connector.
func NewAzureBlob(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	c := &AzureBlob{}
	c.base = newBase(connectorID, name, config, batchSize, c)
	return c, nil
}

func (c *AzureBlob) buildContainerClient() (*container.Client, error) {
	containerName := stringConfig(c.Config, "container_name", "")
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}

	connectionString := stringConfig(c.Config, "azure_connection_string", "")
	accountName := stringConfig(c.Config, "account_name", "")
	accountKey := stringConfig(c.Config, "account_key", "")
	sasToken := stringConfig(c.Config, "sas_token", "")

	switch {
	case connectionString != "":
		svc, err := service.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, err
		}
		return svc.NewContainerClient(containerName), nil

	case accountName != "" && accountKey != "":
		cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, err
		}
		accountURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
		svc, err := service.NewClientWithSharedKeyCredential(accountURL, cred, nil)
		if err != nil {
			return nil, err
		}
		return svc.NewContainerClient(containerName), nil

	case accountName != "" && sasToken != "":
		if !strings.HasPrefix(sasToken, "?") {
			sasToken = "?" + sasToken
		}
		accountURL := fmt.Sprintf("https://%s.blob.core.windows.net%s", accountName, sasToken)
		svc, err := service.NewClientWithNoCredential(accountURL, nil)
		if err != nil {
			return nil, err
		}
		return svc.NewContainerClient(containerName), nil

	case accountName != "":
		cred, err := azidentityDefaultCredential()
		if err != nil {
			return nil, fmt.Errorf("default azure credential: %w", err)
		}
		accountURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
		svc, err := service.NewClient(accountURL, cred, nil)
		if err != nil {
			return nil, err
		}
		return svc.NewContainerClient(containerName), nil

	default:
		return nil, fmt.Errorf("either azure_connection_string, account_key, or sas_token is required")
	}
}

func (c *AzureBlob) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	client, err := c.buildContainerClient()
	if err != nil {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: err}
	}
	if _, err := client.GetProperties(ctx, nil); err != nil {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: err}
	}

	c.containerClient = client
	c.MarkConnected(true)
	return nil
}

func (c *AzureBlob) Disconnect(_ context.Context) error {
	c.containerClient = nil
	c.MarkConnected(false)
	return nil
}

func (c *AzureBlob) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	start := time.Now()

	client, err := c.buildContainerClient()
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error()}, nil
	}

	props, err := client.GetProperties(ctx, nil)
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err), LatencyMS: elapsedMS(start)}, nil
	}

	prefix := stringConfig(c.Config, "prefix", "")
	pager := client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})

	var blobCount int
	sample := make([]string, 0, 5)
	for pager.More() && blobCount < 10 {
		page, err := pager.NextPage(ctx)
		if err != nil {
			break
		}
		for _, b := range page.Segment.BlobItems {
			if blobCount >= 10 {
				break
			}
			blobCount++
			if len(sample) < 5 {
				sample = append(sample, *b.Name)
			}
		}
	}

	latency := elapsedMS(start)

	var lastModified any
	if props.LastModified != nil {
		lastModified = props.LastModified.Format(time.RFC3339)
	}

	containerName := stringConfig(c.Config, "container_name", "")
	return &connector.ConnectionTestResult{
		Success:   true,
		Message:   fmt.Sprintf("successfully connected to container: %s", containerName),
		LatencyMS: latency,
		Details: map[string]any{
			"container":     containerName,
			"account":       stringConfig(c.Config, "account_name", "(from connection string)"),
			"prefix":        prefix,
			"blobs_found":   blobCount,
			"sample_files":  sample,
			"last_modified": lastModified,
		},
	}, nil
}

func (c *AzureBlob) listFiles(ctx context.Context, pattern string) ([]Info, error) {
	if c.containerClient == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	prefix := stringConfig(c.Config, "prefix", "")
	pager := c.containerClient.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})

	var files []Info
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, &connector.Error{ConnectorID: c.ConnectorID, Op: "list_files", Err: fmt.Errorf("failed to list blobs: %w", err)}
		}
		for _, b := range page.Segment.BlobItems {
			name := *b.Name
			if strings.HasSuffix(name, "/") {
				continue
			}

			filename := name
			if idx := strings.LastIndex(name, "/"); idx >= 0 {
				filename = name[idx+1:]
			}
			if pattern != "" && pattern != "*" {
				if ok, _ := filepath.Match(pattern, filename); !ok {
					continue
				}
			}

			var modified time.Time
			if b.Properties != nil && b.Properties.LastModified != nil {
				modified = *b.Properties.LastModified
			}
			var size int64
			if b.Properties != nil && b.Properties.ContentLength != nil {
				size = *b.Properties.ContentLength
			}

			files = append(files, Info{Name: filename, Path: name, Size: size, ModifiedAt: modified})
		}
	}
	return files, nil
}

func (c *AzureBlob) downloadFile(ctx context.Context, remotePath, localPath string) error {
	if c.containerClient == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	blobClient := c.containerClient.NewBlobClient(remotePath)
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return err
	}
	return os.WriteFile(localPath, buf.Bytes(), 0o644)
}

func (c *AzureBlob) archiveFile(ctx context.Context, sourcePath, archivePath string) error {
	if c.containerClient == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	sourceBlob := c.containerClient.NewBlobClient(sourcePath)
	destBlob := c.containerClient.NewBlobClient(archivePath)

	if _, err := destBlob.StartCopyFromURL(ctx, sourceBlob.URL(), nil); err != nil {
		return err
	}

	time.Sleep(time.Second)

	_, err := sourceBlob.Delete(ctx, nil)
	return err
}

func azidentityDefaultCredential() (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(nil)
}
