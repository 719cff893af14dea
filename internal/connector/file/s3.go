package file

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rakunlabs/ingestcore/internal/connector"
)

// S3 connects to an AWS S3 (or S3-compatible) bucket: IAM role or static
// access-key authentication, prefix filtering, and archive-by-copy-then-
// delete after a file has been synced.
type S3 struct {
	base
	client *s3.Client
}

// NewS3 builds an S3 file connector.
func NewS3(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	c := &S3{}
	c.base = newBase(connectorID, name, config, batchSize, c)
	return c, nil
}

func (c *S3) buildClient(ctx context.Context) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := stringConfig(c.Config, "region", ""); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey := stringConfig(c.Config, "aws_access_key", ""); accessKey != "" {
		secretKey := stringConfig(c.Config, "aws_secret_key", "")
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := stringConfig(c.Config, "endpoint_url", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (c *S3) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	bucket := stringConfig(c.Config, "bucket", "")
	if bucket == "" {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: fmt.Errorf("bucket name is required")}
	}

	client, err := c.buildClient(ctx)
	if err != nil {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: err}
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: err}
	}

	c.client = client
	c.MarkConnected(true)
	return nil
}

func (c *S3) Disconnect(_ context.Context) error {
	c.client = nil
	c.MarkConnected(false)
	return nil
}

func (c *S3) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	start := time.Now()

	bucket := stringConfig(c.Config, "bucket", "")
	if bucket == "" {
		return &connector.ConnectionTestResult{Success: false, Message: "bucket name is required"}, nil
	}

	client, err := c.buildClient(ctx)
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error()}, nil
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: fmt.Sprintf("connection failed: %v", err), LatencyMS: elapsedMS(start)}, nil
	}

	prefix := stringConfig(c.Config, "prefix", "")
	list, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket), Prefix: aws.String(prefix), MaxKeys: aws.Int32(10),
	})
	latency := elapsedMS(start)
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: fmt.Sprintf("list objects failed: %v", err), LatencyMS: latency}, nil
	}

	sample := make([]string, 0, 5)
	for i, obj := range list.Contents {
		if i >= 5 {
			break
		}
		sample = append(sample, aws.ToString(obj.Key))
	}

	return &connector.ConnectionTestResult{
		Success:   true,
		Message:   fmt.Sprintf("successfully connected to bucket: %s", bucket),
		LatencyMS: latency,
		Details: map[string]any{
			"bucket":        bucket,
			"region":        c.Config["region"],
			"prefix":        prefix,
			"objects_found": len(list.Contents),
			"sample_files":  sample,
		},
	}, nil
}

func (c *S3) listFiles(ctx context.Context, pattern string) ([]Info, error) {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	bucket := stringConfig(c.Config, "bucket", "")
	prefix := stringConfig(c.Config, "prefix", "")

	var files []Info
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket), Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3 objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || key[len(key)-1] == '/' {
				continue
			}
			name := path.Base(key)
			if pattern != "" && pattern != "*" {
				if ok, _ := filepath.Match(pattern, name); !ok {
					continue
				}
			}
			var modified time.Time
			if obj.LastModified != nil {
				modified = *obj.LastModified
			}
			files = append(files, Info{Name: name, Path: key, Size: aws.ToInt64(obj.Size), ModifiedAt: modified})
		}
	}
	return files, nil
}

func (c *S3) downloadFile(ctx context.Context, remotePath, localPath string) error {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	bucket := stringConfig(c.Config, "bucket", "")
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(remotePath)})
	if err != nil {
		return err
	}
	defer out.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.ReadFrom(out.Body)
	return err
}

func (c *S3) archiveFile(ctx context.Context, sourcePath, archivePath string) error {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}
	bucket := stringConfig(c.Config, "bucket", "")

	_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(bucket),
		CopySource: aws.String(bucket + "/" + sourcePath),
		Key:        aws.String(archivePath),
	})
	if err != nil {
		return err
	}

	_, err = c.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(sourcePath)})
	return err
}

func elapsedMS(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
