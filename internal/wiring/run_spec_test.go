package wiring

import (
	"context"
	"errors"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"walkpipe/pkg/walker"
)

func values(els []walker.Element) []uint64 {
	out := make([]uint64, len(els))
	for i, el := range els {
		out[i] = el.Value
	}
	return out
}

var _ = ginkgo.Describe("Session over a snapshot", func() {
	var s *Session

	ginkgo.BeforeEach(func() {
		var err error
		s, err = Open(context.Background(), []string{"testdata/core.yaml"})
		gomega.Expect(err).To(gomega.Succeed())
	})

	ginkgo.Describe("data walkers", func() {
		ginkgo.It("walks a linked list to its terminating NULL", func() {
			els, _, err := s.Run("linked-list head; next")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x1000, 0x1010, 0x1020}))
			gomega.Expect(els[0].Type).To(gomega.Equal("node_t *"))
		})

		ginkgo.It("filters and counts list payloads", func() {
			els, _, err := s.Run(`linked-list head; next | if load(cur, "node_t", "value") > 1 | count`)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{2}))
		})

		ginkgo.It("walks a tree in pre-order", func() {
			els, _, err := s.Run("nested-list root; sibling; child")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x2000, 0x2018, 0x2048, 0x2030}))
		})

		ginkgo.It("steps through an array by element size", func() {
			els, _, err := s.Run(`array table; 4 | eval read(cur, "int")`)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{5, 0xffffffffffffffff, 7, 0}))
		})

		ginkgo.It("follows an expression until the stop condition holds", func() {
			els, _, err := s.Run(`follow-until head; cur == 0; load(cur, "node_t", "next")`)
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x1000, 0x1010, 0x1020}))
		})

		ginkgo.It("prints elements through the snapshot formatter", func() {
			_, out, err := s.Run("eval head | show")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(out).To(gomega.Equal("(node_t *) 0x1000 <head> {next = 0x1010, value = 0x1}\n"))
		})
	})

	ginkgo.Describe("code walkers", func() {
		ginkgo.It("lists the instructions of a routine", func() {
			els, _, err := s.Run("instructions main; NULL; 3")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x400000, 0x400001, 0x400006}))
		})

		ginkgo.It("walks the call graph without library calls", func() {
			els, _, err := s.Run("called-functions main; src/; -1; unique")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x400000, 0x400100, 0x400300}))
		})

		ginkgo.It("reports the hypothetical stack of a deep callee", func() {
			els, _, err := s.Run("called-functions main; src/; -1 | if cur == walk | head 1 | hypothetical-call-stack")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x400000, 0x400100, 0x400300}))
		})

		ginkgo.It("stops at the depth limit", func() {
			els, _, err := s.Run("called-functions main; .*; 0")
			gomega.Expect(err).To(gomega.Succeed())
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x400000}))
		})
	})

	ginkgo.Describe("composition", func() {
		ginkgo.It("connects separately compiled halves like the whole pipeline", func() {
			whole, _, err := s.Run("linked-list head; next | reverse | head 2")
			gomega.Expect(err).To(gomega.Succeed())

			c := s.Compiler(nil)
			left, err := c.Compile("linked-list head; next | reverse")
			gomega.Expect(err).To(gomega.Succeed())
			right, err := c.CompileContinuation("head 2")
			gomega.Expect(err).To(gomega.Succeed())
			joined, err := walker.Collect(walker.Connect(left, right))
			gomega.Expect(err).To(gomega.Succeed())

			gomega.Expect(values(joined)).To(gomega.Equal(values(whole)))
			gomega.Expect(values(whole)).To(gomega.Equal([]uint64{0x1020, 0x1010}))
		})
	})

	ginkgo.Describe("failures", func() {
		ginkgo.It("attributes memory errors to the stage that hit them", func() {
			els, _, err := s.Run(`eval as(0x9000, "node_t *") | linked-list next`)
			gomega.Expect(values(els)).To(gomega.Equal([]uint64{0x9000}))
			var se *walker.StageError
			gomega.Expect(errors.As(err, &se)).To(gomega.BeTrue())
			gomega.Expect(se.Stage).To(gomega.Equal("linked-list"))
		})

		ginkgo.It("rejects a walker that needs input in first position", func() {
			_, _, err := s.Run("count")
			gomega.Expect(err).To(gomega.MatchError(walker.ErrPosition))
		})

		ginkgo.It("fails to open missing snapshots", func() {
			_, err := Open(context.Background(), []string{"testdata/nope.yaml"})
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})
})
