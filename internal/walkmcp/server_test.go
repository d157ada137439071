package walkmcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"walkpipe/internal/snapshot"
	"walkpipe/internal/walkmcp"
	"walkpipe/pkg/walker/stages"
)

func newTestServer(t *testing.T) *walkmcp.Server {
	t.Helper()
	snap, err := snapshot.New(&snapshot.File{
		PointerSize: 8,
		Types: []snapshot.TypeDef{{
			Name: "node_t", Size: 16,
			Fields: []snapshot.Field{{Name: "next", Offset: 0, Type: "node_t *"}, {Name: "value", Offset: 8, Type: "long"}},
		}},
		Symbols: []snapshot.Symbol{{Name: "head", Value: 0x1000, Type: "node_t *"}},
		Memory:  []snapshot.MemoryWord{{Address: 0x1000, Words: []uint64{0x1010, 1, 0x1020, 2, 0, 3}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return walkmcp.NewServer(stages.NewRegistry(), snap, "test")
}

func connectInMemory(t *testing.T, ctx context.Context, srv *walkmcp.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	if _, err := srv.MCPServer.Connect(ctx, t1, nil); err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		t.Fatalf("CallTool(%s) returned error: %s", name, errorText(res))
	}
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return
		}
	}
	t.Fatalf("no text content in tool result")
}

func callToolExpectError(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return err.Error()
	}
	if !res.IsError {
		t.Fatal("expected error but got success")
	}
	return errorText(res)
}

func errorText(res *sdkmcp.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			return tc.Text
		}
	}
	return "unknown error"
}

type runResult struct {
	Stages   []string `json:"stages"`
	Elements []struct {
		Type    string `json:"type"`
		Value   string `json:"value"`
		Display string `json:"display"`
	} `json:"elements"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated"`
	Output    string `json:"output"`
}

func TestRunPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	var res runResult
	callTool(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "linked-list head; next"}, &res)

	if res.Count != 3 || res.Truncated {
		t.Fatalf("count=%d truncated=%v, want 3 untruncated", res.Count, res.Truncated)
	}
	var got []string
	for _, el := range res.Elements {
		got = append(got, el.Value)
	}
	if strings.Join(got, ",") != "0x1000,0x1010,0x1020" {
		t.Errorf("values = %v", got)
	}
	if res.Elements[0].Display != "(node_t *) 0x1000 <head> {next = 0x1010, value = 0x1}" {
		t.Errorf("display = %q", res.Elements[0].Display)
	}
	if strings.Join(res.Stages, ",") != "linked-list" {
		t.Errorf("stages = %v", res.Stages)
	}
}

func TestRunPipeline_LimitAndShow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	var res runResult
	callTool(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "linked-list head; next", "limit": 2}, &res)
	if res.Count != 2 || !res.Truncated {
		t.Errorf("count=%d truncated=%v, want 2 truncated", res.Count, res.Truncated)
	}

	res = runResult{}
	callTool(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "linked-list head; next | count | show"}, &res)
	if res.Count != 0 || res.Output != "(long) 0x3\n" {
		t.Errorf("count=%d output=%q", res.Count, res.Output)
	}
}

func TestRunPipeline_Errors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	msg := callToolExpectError(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "linked-lst head; next"})
	if !strings.Contains(msg, "linked-list") {
		t.Errorf("expected suggestion in %q", msg)
	}
	msg = callToolExpectError(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "count"})
	if !strings.Contains(msg, "cannot be first") {
		t.Errorf("expected position error, got %q", msg)
	}
	msg = callToolExpectError(t, ctx, session, "run_pipeline", map[string]any{"pipeline": "eval deref(0x9000)"})
	if !strings.Contains(msg, "eval") {
		t.Errorf("expected error attributed to eval, got %q", msg)
	}
}

func TestListWalkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	var out struct {
		Walkers []struct {
			Name string   `json:"name"`
			Tags []string `json:"tags"`
		} `json:"walkers"`
		Tags []string `json:"tags"`
	}
	callTool(t, ctx, session, "list_walkers", map[string]any{"tag": "code"}, &out)
	if len(out.Walkers) != 3 {
		t.Errorf("code walkers = %v, want 3", out.Walkers)
	}
	if len(out.Tags) != 3 {
		t.Errorf("tags = %v", out.Tags)
	}

	out.Walkers = nil
	callTool(t, ctx, session, "list_walkers", map[string]any{"pattern": "^dedup$"}, &out)
	if len(out.Walkers) != 1 || out.Walkers[0].Name != "dedup" {
		t.Errorf("apropos dedup = %v", out.Walkers)
	}

	callToolExpectError(t, ctx, session, "list_walkers", map[string]any{"pattern": "("})
}

func TestDescribeWalker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	session := connectInMemory(t, ctx, newTestServer(t))

	var out struct {
		Name          string `json:"name"`
		Doc           string `json:"doc"`
		RequiresInput bool   `json:"requires_input"`
	}
	callTool(t, ctx, session, "describe_walker", map[string]any{"name": "hypothetical-call-stack"}, &out)
	if out.Name != "hypothetical-call-stack" || !out.RequiresInput || out.Doc == "" {
		t.Errorf("unexpected description %+v", out)
	}

	msg := callToolExpectError(t, ctx, session, "describe_walker", map[string]any{"name": "hed"})
	if !strings.Contains(msg, "head") {
		t.Errorf("expected suggestion head in %q", msg)
	}
}
