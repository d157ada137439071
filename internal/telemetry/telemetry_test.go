package telemetry

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"walkpipe/pkg/walker"
	"walkpipe/pkg/walker/stages"
)

type literal struct{}

func (literal) SizeOf(string) (uint64, error) { return 8, nil }
func (literal) Evaluate(text string, _ *walker.Element) (walker.Element, error) {
	return walker.NewElement("long", uint64(len(text))), nil
}

func TestMetrics_RecordsPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	c := walker.NewCompiler(stages.NewRegistry(), walker.NewEnv(literal{}, &bytes.Buffer{}), walker.WithObserver(m))

	seq, err := c.Run("eval abc | count")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := walker.Collect(seq); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.Compiled); got != 1 {
		t.Errorf("compiled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StagesCreated.WithLabelValues("count")); got != 1 {
		t.Errorf("count created = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Yields.WithLabelValues("eval")); got != 1 {
		t.Errorf("eval yields = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("complete")); got != 1 {
		t.Errorf("complete runs = %v, want 1", got)
	}

	if _, err := c.Compile("nosuch"); err == nil {
		t.Fatal("expected compile error")
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
}

func TestMetrics_Stopped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	c := walker.NewCompiler(stages.NewRegistry(), walker.NewEnv(literal{}, &bytes.Buffer{}), walker.WithObserver(m))
	seq, err := c.Run("eval abc")
	if err != nil {
		t.Fatal(err)
	}
	for _, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		break
	}
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("stopped")); got != 1 {
		t.Errorf("stopped runs = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Compiled.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "walkpipe_pipelines_compiled_total 1") {
		t.Errorf("metric missing from exposition:\n%s", body)
	}
}
