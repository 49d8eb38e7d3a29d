package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/device"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/internal/session"
	"github.com/ihiteshgupta/whatsapp-mcp/session-manager/pkg/mcp"
)

const sessionScheme = "session://"

var _ mcp.ResourceHandler = (*Handler)(nil)

func sessionURI(tenantID, sessionName string) string {
	return sessionScheme + tenantID + "/" + sessionName
}

// parseSessionURI reads session://<tenant>/<session>.
func parseSessionURI(uri string) (device.Identity, bool) {
	rest, ok := strings.CutPrefix(uri, sessionScheme)
	if !ok {
		return device.Identity{}, false
	}
	tenantID, sessionName, ok := strings.Cut(rest, "/")
	id := device.Identity{TenantID: tenantID, SessionName: sessionName}
	if !ok || id.Validate() != nil {
		return device.Identity{}, false
	}
	return id, true
}

// ListResources exposes every known session's status as a resource.
func (h *Handler) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	infos, err := h.sessions.SessionsInfo(ctx)
	if err != nil {
		return nil, err
	}

	resources := make([]mcp.Resource, 0, len(infos))
	for _, info := range infos {
		resources = append(resources, mcp.Resource{
			URI:         sessionURI(info.TenantID, info.SessionName),
			Name:        info.TenantID + "/" + info.SessionName,
			Description: "Session status: " + string(info.State),
			MimeType:    "application/json",
		})
	}
	return resources, nil
}

// ReadResource returns the status of the session named by uri.
func (h *Handler) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	id, ok := parseSessionURI(uri)
	if !ok {
		return nil, nil
	}

	st, err := h.sessions.Status(ctx, id)
	if errors.Is(err, session.ErrUnknownSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContent{{URI: uri, MimeType: "application/json", Text: string(data)}},
	}, nil
}
