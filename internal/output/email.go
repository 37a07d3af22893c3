package output

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/smtp"
	"strconv"

	"github.com/google/uuid"
	"github.com/thoscut/pdfocr/internal/config"
	"github.com/thoscut/pdfocr/internal/jobs"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailHandler sends documents via email as attachments.
type EmailHandler struct {
	host      string
	port      int
	user      string
	password  string
	from      string
	recipient string
	sendMail  sendMailFunc
}

// NewEmailHandler creates a new email output handler.
func NewEmailHandler(cfg config.EmailConfig) *EmailHandler {
	return &EmailHandler{
		host:      cfg.SMTPHost,
		port:      cfg.SMTPPort,
		user:      cfg.SMTPUser,
		password:  cfg.SMTPPassword,
		from:      cfg.FromAddress,
		recipient: cfg.DefaultRecipient,
		sendMail:  smtp.SendMail,
	}
}

func (h *EmailHandler) Name() string { return "email" }

func (h *EmailHandler) Available() bool {
	return h.host != "" && h.from != "" && h.recipient != ""
}

// Send emails a document as an attachment.
func (h *EmailHandler) Send(_ context.Context, doc *jobs.Document) error {
	msg, err := h.buildMessage(doc)
	if err != nil {
		return err
	}

	addr := h.host + ":" + strconv.Itoa(h.port)
	var auth smtp.Auth
	if h.user != "" {
		auth = smtp.PlainAuth("", h.user, h.password, h.host)
	}

	if err := h.sendMail(addr, auth, h.from, []string{h.recipient}, msg); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (h *EmailHandler) buildMessage(doc *jobs.Document) ([]byte, error) {
	subject := "pdfocr: " + doc.Filename
	if doc.Title != "" {
		subject = "pdfocr: " + doc.Title
	}

	var data bytes.Buffer
	if _, err := io.Copy(&data, doc.Reader); err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	boundary := "pdfocr-" + uuid.New().String()
	filename := mime.QEncoding.Encode("utf-8", doc.Filename)
	var msg bytes.Buffer

	fmt.Fprintf(&msg, "From: %s\r\n", h.from)
	fmt.Fprintf(&msg, "To: %s\r\n", h.recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/mixed; boundary=%s\r\n\r\n", boundary)

	// Text body
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&msg, "Searchable document: %s\r\n\r\n", doc.Filename)

	// PDF attachment
	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: application/pdf; name=\"%s\"\r\n", filename)
	msg.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&msg, "Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", filename)

	encoded := base64.StdEncoding.EncodeToString(data.Bytes())
	// Wrap at 76 characters
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		msg.WriteString(encoded[i:end] + "\r\n")
	}

	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes(), nil
}
