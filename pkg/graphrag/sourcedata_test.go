package graphrag_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/graphrag"
	"github.com/buildforge/buildforge/pkg/shared/types"
)

var _ = Describe("RunDirSourceData", func() {
	var runDir string

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "graphrag-sourcedata")
		Expect(err).NotTo(HaveOccurred())
		runDir = dir

		serviceMap := types.ServiceMap{Services: []types.ServiceDefinition{
			{Name: "orders", DomainEntities: []string{"Order", "LineItem"}},
			{Name: "inventory", DomainEntities: []string{"Stock"}},
		}}
		raw, err := json.Marshal(serviceMap)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(runDir, "service_map.json"), raw, 0o644)).To(Succeed())
	})

	It("populates services, domain entities, and contract IDs with no embedder or interface files", func() {
		state := types.NewPipelineState("run-1", "prd.md")
		state.ServiceMapPath = filepath.Join(runDir, "service_map.json")
		state.ContractIDs = map[string][]string{"orders": {"contract-1"}}

		src, err := graphrag.RunDirSourceData{}.Load(runDir, state)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.Services).To(HaveLen(2))
		Expect(src.ContractIDs["orders"]).To(ConsistOf("contract-1"))

		var names []string
		for _, e := range src.DomainEntities {
			names = append(names, e.Name)
		}
		Expect(names).To(ConsistOf("Order", "LineItem", "Stock"))
	})

	It("reads a service's optional interface and openapi artifacts when present", func() {
		svcDir := filepath.Join(runDir, "orders")
		Expect(os.MkdirAll(svcDir, 0o755)).To(Succeed())
		iface := types.ServiceInterface{Service: "orders", Endpoints: []types.EndpointInterface{{Method: "GET", Path: "/orders", Provider: "orders"}}}
		raw, err := json.Marshal(iface)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(svcDir, "service_interface.json"), raw, 0o644)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(svcDir, "openapi.json"), []byte(`{"openapi":"3.0.0"}`), 0o644)).To(Succeed())

		state := types.NewPipelineState("run-1", "prd.md")
		state.ServiceMapPath = filepath.Join(runDir, "service_map.json")

		src, err := graphrag.RunDirSourceData{}.Load(runDir, state)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.ServiceInterfaces["orders"].Endpoints).To(HaveLen(1))
		Expect(src.OpenAPIDocs["orders"]).NotTo(BeEmpty())
	})

	It("tolerates a service directory with no artifacts at all", func() {
		state := types.NewPipelineState("run-1", "prd.md")
		state.ServiceMapPath = filepath.Join(runDir, "service_map.json")

		src, err := graphrag.RunDirSourceData{}.Load(runDir, state)
		Expect(err).NotTo(HaveOccurred())
		Expect(src.ServiceInterfaces).To(BeEmpty())
		Expect(src.OpenAPIDocs).To(BeEmpty())
	})

	It("fails when the service map is missing", func() {
		state := types.NewPipelineState("run-1", "prd.md")
		state.ServiceMapPath = filepath.Join(runDir, "does-not-exist.json")

		_, err := graphrag.RunDirSourceData{}.Load(runDir, state)
		Expect(err).To(HaveOccurred())
	})
})
