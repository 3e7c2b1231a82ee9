package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/claude/rehabai/internal/achievements"
	"github.com/claude/rehabai/internal/repcount"
)

func (h *handlers) exerciseCatalog(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	exercises := []repcount.Exercise{repcount.BicepCurl(repcount.SideLeft)}
	if h.opts.Exercises != nil {
		exercises = h.opts.Exercises()
	}
	return jsonResource(req.Params.URI, exercises)
}

func (h *handlers) badgeCatalog(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	var badges []achievements.Badge
	if h.opts.Badges != nil {
		badges = h.opts.Badges.Registry()
	}
	return jsonResource(req.Params.URI, badges)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
