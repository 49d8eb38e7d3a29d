// Package whatsapp implements the device session provider on top of
// whatsmeow, one linked device per tenant session.
package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
)

const deviceDBName = "device.db"

// Provider creates whatsmeow-backed device sessions. Each identity gets its
// own credential store under the tokens directory.
type Provider struct {
	tokensDir string
	log       *slog.Logger
	// qrOut, when set, receives every QR code rendered for a terminal.
	qrOut io.Writer
}

var _ device.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithTerminalQR renders QR codes as text to w.
func WithTerminalQR(w io.Writer) Option {
	return func(p *Provider) { p.qrOut = w }
}

// NewProvider creates a provider storing credentials under tokensDir.
func NewProvider(tokensDir string, log *slog.Logger, opts ...Option) *Provider {
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{tokensDir: tokensDir, log: log.With("component", "whatsapp")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SessionDir returns the credential directory of id.
func (p *Provider) SessionDir(id device.Identity) string {
	return filepath.Join(p.tokensDir, id.TenantID, id.SessionName)
}

// Create opens the identity's device store and connects. Devices without
// credentials start QR pairing and report notLogged. whatsmeow's own
// reconnect loop is disabled; reconnection is the controller's job.
func (p *Provider) Create(ctx context.Context, id device.Identity, sink device.Sink) (device.Handle, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	dir := p.SessionDir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	log := p.log.With("session", id.String())
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(dir, deviceDBName))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, &slogAdapter{log: log.With("component", "whatsmeow-db")})
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	dev, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to get device store: %w", err)
	}

	client := whatsmeow.NewClient(dev, &slogAdapter{log: log.With("component", "whatsmeow")})
	client.EnableAutoReconnect = false

	s := newSession(id, client, container, sink, log)
	client.AddEventHandler(s.handleEvent)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(s.ctx)
		if err != nil {
			s.release()
			return nil, fmt.Errorf("failed to start QR pairing: %w", err)
		}
		s.wg.Add(1)
		go s.watchQR(qrChan, p.renderQR)
		log.Info("no stored credentials, QR pairing required")
	}

	if err := client.Connect(); err != nil {
		s.release()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return s, nil
}

// Purge removes the identity's stored credentials.
func (p *Provider) Purge(id device.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if err := os.RemoveAll(p.SessionDir(id)); err != nil {
		return fmt.Errorf("failed to remove session directory: %w", err)
	}
	return nil
}

// renderQR turns a pairing code into a base64 PNG, echoing it to the
// terminal when configured.
func (p *Provider) renderQR(code string) (string, error) {
	if p.qrOut != nil {
		qrterminal.GenerateHalfBlock(code, qrterminal.L, p.qrOut)
	}
	return encodeQR(code)
}

func encodeQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
