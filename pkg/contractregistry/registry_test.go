package contractregistry_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/buildforge/buildforge/pkg/contractregistry"
)

func TestContractRegistry(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Contract Registry Suite")
}

var _ = Describe("Registry", func() {
	It("registers and deduplicates contract IDs per service", func() {
		r := contractregistry.New()
		r.Register("order", "contract-a")
		r.Register("order", "contract-a")
		r.Register("order", "contract-b")

		Expect(r.ContractIDs("order")).To(ConsistOf("contract-a", "contract-b"))
	})

	It("round-trips through the state map shape", func() {
		r := contractregistry.New()
		r.Register("order", "contract-a")
		r.Register("auth", "contract-c")

		restored := contractregistry.FromStateMap(r.ToStateMap())
		Expect(restored.ContractIDs("order")).To(ConsistOf("contract-a"))
		Expect(restored.ContractIDs("auth")).To(ConsistOf("contract-c"))
	})
})

var _ = Describe("ParseServiceInterface", func() {
	It("decodes endpoints and events", func() {
		raw := []byte(`{
			"service": "order",
			"endpoints": [{"method": "GET", "path": "/orders", "provider": "order"}],
			"events": [{"name": "order.created", "direction": "publishes"}]
		}`)
		iface, err := contractregistry.ParseServiceInterface(raw)
		Expect(err).NotTo(HaveOccurred())
		Expect(iface.Service).To(Equal("order"))
		Expect(iface.Endpoints).To(HaveLen(1))
		Expect(iface.Events[0].Name).To(Equal("order.created"))
	})

	It("surfaces a user error on malformed JSON", func() {
		_, err := contractregistry.ParseServiceInterface([]byte("not json"))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Query", func() {
	It("extracts fields with a jq expression", func() {
		raw := []byte(`{"endpoints": [{"method": "GET", "path": "/orders"}, {"method": "POST", "path": "/orders"}]}`)
		results, err := contractregistry.Query(raw, ".endpoints[].path")
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(Equal([]interface{}{"/orders", "/orders"}))
	})

	It("surfaces a user error on an invalid jq expression", func() {
		_, err := contractregistry.Query([]byte(`{}`), "(((")
		Expect(err).To(HaveOccurred())
	})
})
