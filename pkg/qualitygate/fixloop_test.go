package qualitygate_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/qualitygate"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("ClassifyPriority", func() {
	It("classifies a SEC- error as P0", func() {
		p := qualitygate.ClassifyPriority(v(types.LayerSystem, "SEC-001", types.SeverityError, "a.go", 1), nil)
		Expect(p).To(Equal(qualitygate.PriorityP0))
	})

	It("classifies a CONV- error as P0", func() {
		p := qualitygate.ClassifyPriority(v(types.LayerConvergence, "CONV-001", types.SeverityError, "a.go", 1), nil)
		Expect(p).To(Equal(qualitygate.PriorityP0))
	})

	It("classifies a non-SEC/CONV error as P1", func() {
		p := qualitygate.ClassifyPriority(v(types.LayerContract, "CONTRACT-001", types.SeverityError, "a.go", 1), nil)
		Expect(p).To(Equal(qualitygate.PriorityP1))
	})

	It("classifies a warning as P1", func() {
		p := qualitygate.ClassifyPriority(v(types.LayerSystem, "DOCKER-001", types.SeverityWarning, "a.go", 1), nil)
		Expect(p).To(Equal(qualitygate.PriorityP1))
	})

	It("classifies an advisory as P2", func() {
		p := qualitygate.ClassifyPriority(v(types.LayerAdversarial, "ADV-003", types.SeverityAdvisory, "a.go", 1), nil)
		Expect(p).To(Equal(qualitygate.PriorityP2))
	})

	It("boosts one level when graphRAG reports high cross-service impact", func() {
		dependents := make([]string, 11)
		for i := range dependents {
			dependents[i] = "svc"
		}
		violation := v(types.LayerContract, "CONTRACT-001", types.SeverityError, "a.go", 1)
		p := qualitygate.ClassifyPriority(violation, stubGraphRAG{dependents: dependents})
		Expect(p).To(Equal(qualitygate.PriorityP0))
	})

	It("does not boost past P0", func() {
		dependents := make([]string, 11)
		for i := range dependents {
			dependents[i] = "svc"
		}
		violation := v(types.LayerSystem, "SEC-001", types.SeverityError, "a.go", 1)
		p := qualitygate.ClassifyPriority(violation, stubGraphRAG{dependents: dependents})
		Expect(p).To(Equal(qualitygate.PriorityP0))
	})

	It("does not boost when impact is at or below the threshold", func() {
		dependents := make([]string, 10)
		for i := range dependents {
			dependents[i] = "svc"
		}
		violation := v(types.LayerContract, "CONTRACT-001", types.SeverityError, "a.go", 1)
		p := qualitygate.ClassifyPriority(violation, stubGraphRAG{dependents: dependents})
		Expect(p).To(Equal(qualitygate.PriorityP1))
	})
})

var _ = Describe("GroupByService", func() {
	services := []types.ServiceDefinition{{Name: "orders"}, {Name: "billing"}}

	It("routes by explicit Service field first", func() {
		violations := []types.Violation{
			{Service: "orders", FilePath: "billing/x.go"},
		}
		grouped := qualitygate.GroupByService(violations, services)
		Expect(grouped).To(HaveKey("orders"))
		Expect(grouped["orders"]).To(HaveLen(1))
	})

	It("falls back to file_path prefix match when Service is empty", func() {
		violations := []types.Violation{
			{FilePath: "billing/handler.go"},
		}
		grouped := qualitygate.GroupByService(violations, services)
		Expect(grouped).To(HaveKey("billing"))
	})

	It("drops violations it cannot attribute to any service", func() {
		violations := []types.Violation{
			{FilePath: "shared/util.go"},
		}
		grouped := qualitygate.GroupByService(violations, services)
		Expect(grouped).To(BeEmpty())
	})
})

var _ = Describe("WriteFixInstructions", func() {
	It("writes a FIX_INSTRUCTIONS.md with P0/P1/P2 sections in order", func() {
		dir, err := os.MkdirTemp("", "fixloop")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		violations := []types.Violation{
			v(types.LayerSystem, "SEC-001", types.SeverityError, "a.go", 5),
			v(types.LayerAdversarial, "ADV-003", types.SeverityAdvisory, "b.go", 1),
		}
		violations[0].Message = "hardcoded secret"
		violations[1].SuggestedFix = "remove dead handler"

		Expect(qualitygate.WriteFixInstructions(dir, violations, nil)).To(Succeed())

		content, err := os.ReadFile(filepath.Join(dir, "FIX_INSTRUCTIONS.md"))
		Expect(err).ToNot(HaveOccurred())
		body := string(content)

		Expect(body).To(ContainSubstring("## P0"))
		Expect(body).To(ContainSubstring("## P2"))
		Expect(body).To(ContainSubstring("SEC-001"))
		Expect(body).To(ContainSubstring("hardcoded secret"))
		Expect(body).To(ContainSubstring("remove dead handler"))

		p0Index := indexOf(body, "## P0")
		p2Index := indexOf(body, "## P2")
		Expect(p0Index).To(BeNumerically("<", p2Index))
	})

	It("appends a Dependencies Warning section listing dependents", func() {
		dir, err := os.MkdirTemp("", "fixloop")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		violations := []types.Violation{
			v(types.LayerSystem, "SEC-001", types.SeverityError, "contract::orders", 1),
		}
		Expect(qualitygate.WriteFixInstructions(dir, violations, stubGraphRAG{dependents: []string{"billing", "shipping"}})).To(Succeed())

		content, err := os.ReadFile(filepath.Join(dir, "FIX_INSTRUCTIONS.md"))
		Expect(err).ToNot(HaveOccurred())
		body := string(content)

		Expect(body).To(ContainSubstring("## Dependencies Warning"))
		Expect(body).To(ContainSubstring("billing"))
	})

	It("omits the Dependencies Warning section when graphRAG is nil", func() {
		dir, err := os.MkdirTemp("", "fixloop")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)

		violations := []types.Violation{
			v(types.LayerSystem, "SEC-001", types.SeverityError, "a.go", 1),
		}
		Expect(qualitygate.WriteFixInstructions(dir, violations, nil)).To(Succeed())

		content, err := os.ReadFile(filepath.Join(dir, "FIX_INSTRUCTIONS.md"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).ToNot(ContainSubstring("Dependencies Warning"))
	})
})

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
