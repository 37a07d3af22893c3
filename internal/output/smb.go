package output

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
)

// SMBHandler uploads documents to a SMB/CIFS network share.
type SMBHandler struct {
	server    string
	share     string
	username  string
	password  string
	directory string
}

// NewSMBHandler creates a new SMB output handler.
func NewSMBHandler(cfg config.SMBConfig) *SMBHandler {
	return &SMBHandler{
		server:    cfg.Server,
		share:     cfg.Share,
		username:  cfg.Username,
		password:  cfg.Password,
		directory: strings.Trim(cfg.Directory, "/"),
	}
}

func (h *SMBHandler) Name() string { return "smb" }

func (h *SMBHandler) Available() bool {
	return h.server != "" && h.share != ""
}

// address normalizes "//host", "host" and "host:port" to host:port.
func (h *SMBHandler) address() string {
	server := strings.TrimPrefix(h.server, "//")
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "445")
	}
	return server
}

// Send uploads a document to the SMB share without replacing existing files.
func (h *SMBHandler) Send(ctx context.Context, doc *jobs.Document) error {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", h.address())
	if err != nil {
		return fmt.Errorf("SMB connect: %w", err)
	}
	defer conn.Close()

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     h.username,
			Password: h.password,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		return fmt.Errorf("SMB authenticate: %w", err)
	}
	defer session.Logoff()

	share, err := session.Mount(h.share)
	if err != nil {
		return fmt.Errorf("SMB mount share: %w", err)
	}
	defer share.Umount()
	share = share.WithContext(ctx)

	if h.directory != "" {
		if err := share.MkdirAll(h.directory, 0o755); err != nil {
			return fmt.Errorf("SMB create directory: %w", err)
		}
	}

	target := h.remotePath(doc.Filename)
	f, err := share.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("SMB create file %s: %w", target, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, doc.Reader); err != nil {
		return fmt.Errorf("SMB write: %w", err)
	}

	return nil
}

// remotePath joins the configured directory and the file name with the
// forward slashes go-smb2 expects.
func (h *SMBHandler) remotePath(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = fmt.Sprintf("ocr_%s.pdf", time.Now().Format("20060102_150405"))
	}
	if h.directory == "" {
		return name
	}
	return h.directory + "/" + name
}
