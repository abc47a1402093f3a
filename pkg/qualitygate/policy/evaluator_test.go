package policy_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/qualitygate/policy"
)

func TestPolicy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Policy Suite")
}

const sampleModule = `package qualitygate.system

violations[v] {
	input.files[i].size_bytes > 1000000
	v := {"code": "SYS-001", "file_path": input.files[i].path}
}
`

var _ = Describe("NewEvaluator", func() {
	It("compiles a well-formed module", func() {
		_, err := policy.NewEvaluator(context.Background(), policy.Config{
			PolicyName: "system",
			Source:     sampleModule,
			Query:      "data.qualitygate.system.violations",
		}, nil)
		Expect(err).ToNot(HaveOccurred())
	})

	It("returns an error for a malformed module", func() {
		_, err := policy.NewEvaluator(context.Background(), policy.Config{
			PolicyName: "broken",
			Source:     "this is not valid rego {{{",
			Query:      "data.qualitygate.broken.violations",
		}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("derives a stable policy hash from the source text", func() {
		cfg := policy.Config{
			PolicyName: "system",
			Source:     sampleModule,
			Query:      "data.qualitygate.system.violations",
		}
		e1, err := policy.NewEvaluator(context.Background(), cfg, nil)
		Expect(err).ToNot(HaveOccurred())
		e2, err := policy.NewEvaluator(context.Background(), cfg, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(e1.GetPolicyHash()).To(Equal(e2.GetPolicyHash()))
		Expect(e1.GetPolicyHash()).ToNot(BeEmpty())
	})
})

var _ = Describe("Evaluate", func() {
	It("decodes matching violations into the target shape", func() {
		e, err := policy.NewEvaluator(context.Background(), policy.Config{
			PolicyName: "system",
			Source:     sampleModule,
			Query:      "data.qualitygate.system.violations",
		}, nil)
		Expect(err).ToNot(HaveOccurred())

		type violation struct {
			Code     string `json:"code"`
			FilePath string `json:"file_path"`
		}
		var out []violation
		input := map[string]interface{}{
			"files": []map[string]interface{}{
				{"path": "big.bin", "size_bytes": 2000000},
				{"path": "small.go", "size_bytes": 100},
			},
		}
		Expect(e.Evaluate(context.Background(), input, &out)).To(Succeed())
		Expect(out).To(HaveLen(1))
		Expect(out[0].Code).To(Equal("SYS-001"))
		Expect(out[0].FilePath).To(Equal("big.bin"))
	})

	It("decodes to an empty result when no rule matches", func() {
		e, err := policy.NewEvaluator(context.Background(), policy.Config{
			PolicyName: "system",
			Source:     sampleModule,
			Query:      "data.qualitygate.system.violations",
		}, nil)
		Expect(err).ToNot(HaveOccurred())

		var out []map[string]interface{}
		input := map[string]interface{}{
			"files": []map[string]interface{}{
				{"path": "small.go", "size_bytes": 100},
			},
		}
		Expect(e.Evaluate(context.Background(), input, &out)).To(Succeed())
		Expect(out).To(BeEmpty())
	})
})
