package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/rakunlabs/ingestcore/internal/connector"
)

// SFTP connects to an SFTP server: password or RSA/Ed25519 private-key
// authentication, glob pattern matching, and archive-by-rename.
type SFTP struct {
	base
	conn   *ssh.Client
	client *sftp.Client
}

// NewSFTP builds an SFTP file connector.
func NewSFTP(connectorID, name string, config map[string]any, batchSize int) (connector.Connector, error) {
	c := &SFTP{}
	c.base = newBase(connectorID, name, config, batchSize, c)
	return c, nil
}

func (c *SFTP) authMethod() (ssh.AuthMethod, error) {
	if privateKey := stringConfig(c.Config, "private_key", ""); privateKey != "" {
		passphrase := stringConfig(c.Config, "private_key_passphrase", "")
		var signer ssh.Signer
		var err error
		if passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(privateKey), []byte(passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(privateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	}

	password := stringConfig(c.Config, "password", "")
	if password == "" {
		return nil, fmt.Errorf("password or private key is required")
	}
	return ssh.Password(password), nil
}

func (c *SFTP) dial(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	host := stringConfig(c.Config, "host", "")
	username := stringConfig(c.Config, "username", "")
	if host == "" || username == "" {
		return nil, nil, fmt.Errorf("host and username are required")
	}
	port := intConfig(c.Config, "port", 22)

	auth, err := c.authMethod()
	if err != nil {
		return nil, nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("ssh dial: %w", err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sftp client: %w", err)
	}

	return conn, client, nil
}

func (c *SFTP) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	conn, client, err := c.dial(ctx)
	if err != nil {
		return &connector.Error{ConnectorID: c.ConnectorID, Op: "connect", Err: err}
	}

	c.conn = conn
	c.client = client
	c.MarkConnected(true)
	return nil
}

func (c *SFTP) Disconnect(_ context.Context) error {
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.MarkConnected(false)
	return nil
}

func (c *SFTP) TestConnection(ctx context.Context) (*connector.ConnectionTestResult, error) {
	start := time.Now()

	conn, client, err := c.dial(ctx)
	if err != nil {
		return &connector.ConnectionTestResult{Success: false, Message: err.Error()}, nil
	}
	defer conn.Close()
	defer client.Close()

	remotePath := stringConfig(c.Config, "remote_path", "/")
	entries, err := client.ReadDir(remotePath)
	latency := elapsedMS(start)
	if err != nil {
		return &connector.ConnectionTestResult{
			Success: true,
			Message: fmt.Sprintf("successfully connected to SFTP server: %s", c.Config["host"]),
			Details: map[string]any{
				"host": c.Config["host"], "port": intConfig(c.Config, "port", 22),
				"username": c.Config["username"], "remote_path": remotePath,
				"files_found": 0, "sample_files": []string{},
			},
			LatencyMS: latency,
		}, nil
	}

	sample := make([]string, 0, 5)
	for i, e := range entries {
		if i >= 5 {
			break
		}
		sample = append(sample, e.Name())
	}

	return &connector.ConnectionTestResult{
		Success:   true,
		Message:   fmt.Sprintf("successfully connected to SFTP server: %s", c.Config["host"]),
		LatencyMS: latency,
		Details: map[string]any{
			"host": c.Config["host"], "port": intConfig(c.Config, "port", 22),
			"username": c.Config["username"], "remote_path": remotePath,
			"files_found": len(entries), "sample_files": sample,
		},
	}, nil
}

func (c *SFTP) listFiles(ctx context.Context, pattern string) ([]Info, error) {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	remotePath := stringConfig(c.Config, "remote_path", "/")
	entries, err := c.client.ReadDir(remotePath)
	if err != nil {
		return nil, &connector.Error{ConnectorID: c.ConnectorID, Op: "list_files", Err: fmt.Errorf("failed to list files: %w", err)}
	}

	var files []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if pattern != "" && pattern != "*" {
			if ok, _ := filepath.Match(pattern, name); !ok {
				continue
			}
		}

		fullPath := strings.TrimRight(remotePath, "/") + "/" + name
		files = append(files, Info{
			Name: name, Path: fullPath, Size: e.Size(), ModifiedAt: e.ModTime(),
		})
	}
	return files, nil
}

func (c *SFTP) downloadFile(ctx context.Context, remotePath, localPath string) error {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	remote, err := c.client.Open(remotePath)
	if err != nil {
		return err
	}
	defer remote.Close()

	local, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer local.Close()

	_, err = io.Copy(local, remote)
	return err
}

func (c *SFTP) archiveFile(ctx context.Context, sourcePath, archivePath string) error {
	if c.client == nil {
		if err := c.Connect(ctx); err != nil {
			return err
		}
	}

	archiveDir := path.Dir(archivePath)
	if _, err := c.client.Stat(archiveDir); err != nil {
		if err := c.client.MkdirAll(archiveDir); err != nil {
			return err
		}
	}

	return c.client.Rename(sourcePath, archivePath)
}
