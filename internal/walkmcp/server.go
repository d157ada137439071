// Package walkmcp exposes the walker registry and pipeline compiler as MCP
// tools.
package walkmcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"walkpipe/internal/logging"
	"walkpipe/pkg/walker"
)

const (
	defaultLimit = 1000
	maxLimit     = 100000
)

// Server wraps the MCP SDK server. Every run_pipeline call compiles against
// a fresh Env, so concurrent calls share only the backend.
type Server struct {
	MCPServer *sdkmcp.Server

	registry *walker.Registry
	backend  walker.Backend
	opts     []walker.CompilerOption
	log      *slog.Logger
}

// NewServer creates a walkpipe MCP server with the walker tools registered.
func NewServer(reg *walker.Registry, backend walker.Backend, version string, opts ...walker.CompilerOption) *Server {
	s := &Server{
		MCPServer: sdkmcp.NewServer(&sdkmcp.Implementation{Name: "walkpipe", Version: version}, nil),
		registry:  reg,
		backend:   backend,
		opts:      opts,
		log:       logging.New("walk-mcp"),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "run_pipeline",
		Description: "Compile and run a walker pipeline such as `linked-list head; next | count`. Returns the yielded elements and any text written by `show`.",
	}, s.handleRunPipeline)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_walkers",
		Description: "List registered walkers, optionally filtered by tag or by a regular expression over names and documentation.",
	}, s.handleListWalkers)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "describe_walker",
		Description: "Show the full documentation and position constraints of one walker.",
	}, s.handleDescribeWalker)
}

// --- Tool input/output types ---

type runPipelineInput struct {
	Pipeline string `json:"pipeline" jsonschema:"pipeline text, stages separated by |"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum elements to return (default 1000)"`
}

type elementOutput struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Display string `json:"display"`
}

type runPipelineOutput struct {
	Stages    []string        `json:"stages"`
	Elements  []elementOutput `json:"elements"`
	Count     int             `json:"count"`
	Truncated bool            `json:"truncated"`
	Output    string          `json:"output,omitempty"`
}

type listWalkersInput struct {
	Tag     string `json:"tag,omitempty" jsonschema:"only walkers carrying this tag"`
	Pattern string `json:"pattern,omitempty" jsonschema:"case-insensitive regular expression over names and docs"`
}

type walkerSummary struct {
	Name    string   `json:"name"`
	Tags    []string `json:"tags"`
	Summary string   `json:"summary"`
}

type listWalkersOutput struct {
	Walkers []walkerSummary `json:"walkers"`
	Tags    []string        `json:"tags"`
}

type describeWalkerInput struct {
	Name string `json:"name" jsonschema:"walker name"`
}

type describeWalkerOutput struct {
	Name             string   `json:"name"`
	Tags             []string `json:"tags"`
	Doc              string   `json:"doc"`
	RequiresInput    bool     `json:"requires_input"`
	RequiresFollower bool     `json:"requires_follower"`
}

// --- Tool handlers ---

func (s *Server) handleRunPipeline(ctx context.Context, _ *sdkmcp.CallToolRequest, input runPipelineInput) (*sdkmcp.CallToolResult, runPipelineOutput, error) {
	limit := input.Limit
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	var out bytes.Buffer
	env := walker.NewEnv(s.backend, &out)
	env.Logger = s.log
	c := walker.NewCompiler(s.registry, env, s.opts...)
	p, err := c.Compile(input.Pipeline)
	if err != nil {
		return nil, runPipelineOutput{}, err
	}

	res := runPipelineOutput{Stages: p.Names(), Elements: []elementOutput{}}
	for el, err := range p.Seq() {
		if err != nil {
			return nil, runPipelineOutput{}, err
		}
		if ctx.Err() != nil {
			return nil, runPipelineOutput{}, ctx.Err()
		}
		if len(res.Elements) == limit {
			res.Truncated = true
			break
		}
		res.Elements = append(res.Elements, elementOutput{
			Type:    el.Type,
			Value:   el.Hex(),
			Display: walker.FormatElement(s.backend, el),
		})
	}
	res.Count = len(res.Elements)
	res.Output = out.String()
	s.log.Info("pipeline run", "pipeline", input.Pipeline, "count", res.Count, "truncated", res.Truncated)
	return nil, res, nil
}

func (s *Server) handleListWalkers(_ context.Context, _ *sdkmcp.CallToolRequest, input listWalkersInput) (*sdkmcp.CallToolResult, listWalkersOutput, error) {
	descs := s.registry.List()
	if input.Pattern != "" {
		var err error
		if descs, err = s.registry.Apropos(input.Pattern); err != nil {
			return nil, listWalkersOutput{}, err
		}
	}
	out := listWalkersOutput{Walkers: []walkerSummary{}, Tags: s.registry.Tags()}
	for _, d := range descs {
		if input.Tag != "" && !d.HasTag(input.Tag) {
			continue
		}
		out.Walkers = append(out.Walkers, walkerSummary{Name: d.Name, Tags: d.Tags, Summary: d.Summary()})
	}
	return nil, out, nil
}

func (s *Server) handleDescribeWalker(_ context.Context, _ *sdkmcp.CallToolRequest, input describeWalkerInput) (*sdkmcp.CallToolResult, describeWalkerOutput, error) {
	if input.Name == "" {
		return nil, describeWalkerOutput{}, errors.New("name is required")
	}
	d, ok := s.registry.Lookup(input.Name)
	if !ok {
		return nil, describeWalkerOutput{}, fmt.Errorf("describe_walker: %w",
			&walker.UnknownStageError{Name: input.Name, Suggestions: s.registry.Suggest(input.Name)})
	}
	return nil, describeWalkerOutput{
		Name:             d.Name,
		Tags:             d.Tags,
		Doc:              d.Doc,
		RequiresInput:    d.RequiresInput,
		RequiresFollower: d.RequiresFollower,
	}, nil
}
