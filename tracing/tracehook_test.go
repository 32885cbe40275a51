package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/cohsim/sim/hooking"
)

type testDomain struct {
	hooking.HookableBase
	name string
}

func (d *testDomain) Name() string {
	return d.name
}

var _ = Describe("CollectTrace", func() {
	var (
		mockCtrl *gomock.Controller
		tracer   *MockTracer
		domain   *testDomain
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tracer = NewMockTracer(mockCtrl)
		domain = &testDomain{name: "bank"}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should route every hook position to the tracer", func() {
		CollectTrace(domain, tracer)

		gomock.InOrder(
			tracer.EXPECT().StartTask(gomock.Any()).Do(func(task Task) {
				Expect(task.ID).To(Equal("t"))
				Expect(task.Where).To(Equal("bank"))
			}),
			tracer.EXPECT().StepTask(gomock.Any()),
			tracer.EXPECT().EndTask(gomock.Any()),
		)

		StartTask("t", "", domain, "req_in", "ReadReq", nil)
		AddTaskStep("t", domain, "lookup")
		EndTask("t", domain)
	})

	It("should ignore other hook positions", func() {
		CollectTrace(domain, tracer)

		domain.InvokeHook(hooking.HookCtx{
			Domain: domain,
			Pos:    &hooking.HookPos{Name: "Other"},
		})
	})

	It("should panic when the tracer is attached twice", func() {
		CollectTrace(domain, tracer)

		Expect(func() { CollectTrace(domain, tracer) }).To(Panic())
	})
})
