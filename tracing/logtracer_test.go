package tracing

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("LogTracer", func() {
	var (
		mockCtrl   *gomock.Controller
		timeTeller *MockTimeTeller
		buf        *bytes.Buffer
		t          *LogTracer
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		timeTeller = NewMockTimeTeller(mockCtrl)
		buf = new(bytes.Buffer)
		t = NewLogTracer(log.New(buf, "", 0), timeTeller)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should print the lifetime of a task", func() {
		gomock.InOrder(
			timeTeller.EXPECT().CurrentCycle().Return(uint64(10)),
			timeTeller.EXPECT().CurrentCycle().Return(uint64(12)),
			timeTeller.EXPECT().CurrentCycle().Return(uint64(15)),
		)

		t.StartTask(Task{ID: "a", Kind: "req_in", What: "ReadReq", Where: "bank0"})
		t.StepTask(Task{ID: "a", Steps: []TaskStep{{What: "forward"}}})
		t.EndTask(Task{ID: "a"})

		Expect(buf.String()).To(Equal(
			"10 bank0 start a req_in ReadReq\n" +
				"12 step a forward\n" +
				"15 end a after 5 cycles\n"))
	})

	It("should not print the end of an unknown task", func() {
		timeTeller.EXPECT().CurrentCycle().Return(uint64(3))

		t.EndTask(Task{ID: "b"})

		Expect(buf.Len()).To(BeZero())
	})
})
