package hooking

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var _ = Describe("HookableBase", func() {
	var (
		mockCtrl *gomock.Controller
		domain   *HookableBase
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		domain = &HookableBase{}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should invoke hooks in registration order", func() {
		h1 := NewMockHook(mockCtrl)
		h2 := NewMockHook(mockCtrl)
		domain.AcceptHook(h1)
		domain.AcceptHook(h2)

		pos := &HookPos{Name: "Pos"}
		ctx := HookCtx{Pos: pos, Item: 1}

		gomock.InOrder(
			h1.EXPECT().Func(ctx),
			h2.EXPECT().Func(ctx),
		)

		domain.InvokeHook(ctx)

		Expect(domain.NumHooks()).To(Equal(2))
		Expect(domain.Hooks()).To(HaveLen(2))
	})

	It("should panic on duplicated hooks", func() {
		h := NewMockHook(mockCtrl)
		domain.AcceptHook(h)

		Expect(func() { domain.AcceptHook(h) }).To(Panic())
	})

	It("should adapt functions into hooks", func() {
		called := 0
		h := NewHookFunc(func(ctx HookCtx) { called++ })
		domain.AcceptHook(h)

		domain.InvokeHook(HookCtx{})

		Expect(called).To(Equal(1))
	})
})
