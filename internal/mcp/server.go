package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"mtf-ensembles/internal/config"
	"mtf-ensembles/internal/ensemble"
	"mtf-ensembles/internal/fitengine"
	"mtf-ensembles/internal/model"
)

// errNoModel is returned when neither the tool call nor the configuration names a model.
var errNoModel = errors.New("no model given: pass model_path or set MTF_MODEL")

// Server exposes the ensemble facility as MCP tools over stdio.
type Server struct {
	cfg    *config.AppConfig
	server *sdk.Server

	mu     sync.Mutex
	models map[string]*model.Model
}

// NewServer creates a server with all tools registered.
func NewServer(cfg *config.AppConfig, version string) *Server {
	s := &Server{
		cfg:    cfg,
		models: make(map[string]*model.Model),
	}
	s.server = sdk.NewServer(&sdk.Implementation{Name: "mtf-ensembles", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves requests on stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("MCP Server starting Stdio loop")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Connect attaches the server to an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// loadModel resolves path against the data directory and caches parsed models.
func (s *Server) loadModel(path string) (*model.Model, error) {
	if path == "" {
		path = s.cfg.ModelPath
	}
	if path == "" {
		return nil, errNoModel
	}
	if !filepath.IsAbs(path) && s.cfg.DataPath != "" {
		path = filepath.Join(s.cfg.DataPath, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.models[path]; ok {
		return m, nil
	}
	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	s.models[path] = m
	return m, nil
}

// facility creates a fresh facility, so every tool call starts from its seed.
func (s *Server) facility(m *model.Model, seed *uint64) (*ensemble.Facility, error) {
	base := s.cfg.Seed
	if seed != nil {
		base = *seed
	}
	engineCfg := fitengine.Config{
		MaxIterations: s.cfg.Engine.MaxIterations,
		Samples:       s.cfg.Engine.Samples,
		BurnIn:        s.cfg.Engine.BurnIn,
		Seed:          base,
	}
	f, err := ensemble.NewFacility(m, fitengine.Factory(m, engineCfg), ensemble.Config{
		Seed:     base,
		Workers:  s.cfg.Workers,
		LogLevel: log.Logger.GetLevel(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create facility: %w", err)
	}
	return f, nil
}
