package qualitygate_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/qualitygate"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

type stubScanner struct {
	name    string
	layer   types.Layer
	results []types.Violation
	err     error
}

func (s stubScanner) Name() string       { return s.name }
func (s stubScanner) Layer() types.Layer { return s.layer }
func (s stubScanner) Scan(_ context.Context, _ qualitygate.Target) ([]types.Violation, error) {
	return s.results, s.err
}

type stubGraphRAG struct {
	crossServicePublisher bool
	inboundCalls          bool
	dependents            []string
}

func (s stubGraphRAG) CheckCrossServiceEvents(string, string) bool { return s.crossServicePublisher }
func (s stubGraphRAG) HasInboundServiceCalls(string) bool          { return s.inboundCalls }
func (s stubGraphRAG) Dependents(string, int) []string             { return s.dependents }

var _ = Describe("Engine.Run", func() {
	It("aggregates violations across all four layers into one report", func() {
		scanners := []qualitygate.Scanner{
			qualitygate.ConvergenceScanner{},
			stubScanner{name: "contract", layer: types.LayerContract, results: []types.Violation{
				{Layer: types.LayerContract, Code: "CONTRACT-001", Severity: types.SeverityError, FilePath: "a.go", Line: 1},
			}},
			stubScanner{name: "system", layer: types.LayerSystem, results: []types.Violation{
				{Layer: types.LayerSystem, Code: "SEC-001", Severity: types.SeverityError, FilePath: "b.go", Line: 2},
			}},
			stubScanner{name: "adversarial", layer: types.LayerAdversarial, results: []types.Violation{
				{Layer: types.LayerAdversarial, Code: "ADV-003", Severity: types.SeverityAdvisory, FilePath: "c.go", Line: 3},
			}},
		}
		engine := qualitygate.NewEngine(scanners, nil, nil)
		report := engine.Run(context.Background(), qualitygate.Target{})

		Expect(report.Verdict).To(Equal(types.VerdictFail))
		Expect(report.Violations).To(HaveLen(3))
	})

	It("treats a scanner error as zero findings rather than aborting the run", func() {
		scanners := []qualitygate.Scanner{
			stubScanner{name: "broken", layer: types.LayerSystem, err: context.DeadlineExceeded},
		}
		engine := qualitygate.NewEngine(scanners, nil, nil)
		report := engine.Run(context.Background(), qualitygate.Target{})
		Expect(report.Verdict).To(Equal(types.VerdictPass))
	})

	It("suppresses ADV-001 when a cross-service publisher exists", func() {
		scanners := []qualitygate.Scanner{
			stubScanner{name: "adversarial", layer: types.LayerAdversarial, results: []types.Violation{
				{Layer: types.LayerAdversarial, Code: "ADV-001", Severity: types.SeverityAdvisory, Service: "orders", Evidence: "order.created"},
			}},
		}
		engine := qualitygate.NewEngine(scanners, stubGraphRAG{crossServicePublisher: true}, nil)
		report := engine.Run(context.Background(), qualitygate.Target{})
		Expect(report.Violations).To(BeEmpty())
	})

	It("keeps ADV-001 when no cross-service publisher exists", func() {
		scanners := []qualitygate.Scanner{
			stubScanner{name: "adversarial", layer: types.LayerAdversarial, results: []types.Violation{
				{Layer: types.LayerAdversarial, Code: "ADV-001", Severity: types.SeverityAdvisory, Service: "orders", Evidence: "order.created"},
			}},
		}
		engine := qualitygate.NewEngine(scanners, stubGraphRAG{crossServicePublisher: false}, nil)
		report := engine.Run(context.Background(), qualitygate.Target{})
		Expect(report.Violations).To(HaveLen(1))
	})

	It("suppresses ADV-002 when inbound SERVICE_CALLS edges exist", func() {
		scanners := []qualitygate.Scanner{
			stubScanner{name: "adversarial", layer: types.LayerAdversarial, results: []types.Violation{
				{Layer: types.LayerAdversarial, Code: "ADV-002", Severity: types.SeverityAdvisory, FilePath: "contract::orders"},
			}},
		}
		engine := qualitygate.NewEngine(scanners, stubGraphRAG{inboundCalls: true}, nil)
		report := engine.Run(context.Background(), qualitygate.Target{})
		Expect(report.Violations).To(BeEmpty())
	})
})
