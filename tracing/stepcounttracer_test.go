package tracing

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StepCountTracer", func() {
	var t *StepCountTracer

	BeforeEach(func() {
		t = NewStepCountTracer(func(task Task) bool {
			return task.Kind == "req_in"
		})
	})

	step := func(id, what string) Task {
		return Task{ID: id, Steps: []TaskStep{{What: what}}}
	}

	It("should count steps and tasks", func() {
		t.StartTask(Task{ID: "1", Kind: "req_in"})
		t.StartTask(Task{ID: "2", Kind: "req_in"})

		t.StepTask(step("1", "hazard"))
		t.StepTask(step("1", "hazard"))
		t.StepTask(step("2", "hazard"))
		t.StepTask(step("2", "forward"))

		Expect(t.GetStepNames()).To(Equal([]string{"hazard", "forward"}))
		Expect(t.GetStepCount("hazard")).To(Equal(uint64(3)))
		Expect(t.GetTaskCount("hazard")).To(Equal(uint64(2)))
		Expect(t.GetTaskCount("forward")).To(Equal(uint64(1)))
	})

	It("should ignore filtered and finished tasks", func() {
		t.StartTask(Task{ID: "1", Kind: "other"})
		t.StartTask(Task{ID: "2", Kind: "req_in"})
		t.EndTask(Task{ID: "2"})

		t.StepTask(step("1", "hazard"))
		t.StepTask(step("2", "hazard"))

		Expect(t.GetStepNames()).To(BeEmpty())
		Expect(t.GetStepCount("hazard")).To(BeZero())
	})
})
