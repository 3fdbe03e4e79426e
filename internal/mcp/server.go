// Package mcp exposes a tenant's knowledge base to assistants as Model
// Context Protocol tools: ingest text, retrieve chunks, chat, and inspect
// tenant state. The server speaks MCP over stdio.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Core is the subset of services.Core the tools call.
type Core interface {
	Ingest(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
	DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error)
	Retrieve(ctx context.Context, tenantID, query string, topK, topN int) ([]vectorstore.Hit, error)
	HandleChat(ctx context.Context, req chat.Request) (*chat.Response, error)
	Conversations(ctx context.Context, tenantID, userID string, limit int) ([]conversation.Summary, error)
	TenantStats(ctx context.Context, tenantID string) (vectorstore.TenantStats, error)
}

// Server serves ragd's tools over MCP.
type Server struct {
	mcp     *mcp.Server
	core    Core
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default "ragd").
	Name string

	// Version is the implementation version (default "dev").
	Version string

	Logger *zap.Logger
}

// NewServer creates a server with every tool registered.
func NewServer(core Core, cfg *Config) (*Server, error) {
	if core == nil {
		return nil, errors.New("core is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	name, ver := cfg.Name, cfg.Version
	if name == "" {
		name = "ragd"
	}
	if ver == "" {
		ver = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp:     mcp.NewServer(&mcp.Implementation{Name: name, Version: ver}, nil),
		core:    core,
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is cancelled or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
