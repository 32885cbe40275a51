package protocol

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/directory"
)

var _ = Describe("Bank", func() {
	var (
		bank *Bank
	)

	drain := func() []coherence.Msg {
		var out []coherence.Msg

		for {
			msg, ok := bank.Outbound().Pop()
			if !ok {
				return out
			}

			out = append(out, msg)
		}
	}

	BeforeEach(func() {
		bank = MakeBuilder().
			WithDirectory(directory.MakeBuilder().
				WithNumSets(1).
				WithAssociativity(1).
				WithEvictBufferSize(1, 0)).
			WithMAFSize(2, 0).
			WithBufferSizes(4, 4).
			Build("Bank")
	})

	It("should refuse to build with a small outbound buffer", func() {
		Expect(func() {
			MakeBuilder().WithBufferSizes(4, 2).Build("Bank")
		}).To(Panic())
	})

	It("should do nothing when idle", func() {
		Expect(bank.Tick()).To(BeFalse())
		Expect(bank.Quiescent()).To(BeTrue())
	})

	It("should route messages to their inbound buffers", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))
		bank.Deliver(request(coherence.EvictClean, 0x0, 2))
		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))

		Expect(bank.Requests().Size()).To(Equal(2))
		Expect(bank.Replies().Size()).To(Equal(1))
		Expect(bank.Quiescent()).To(BeFalse())
	})

	It("should refuse messages a directory never receives", func() {
		Expect(func() {
			bank.CanDeliver(request(coherence.Invalidate, 0x0, 1))
		}).To(Panic())
	})

	It("should complete a read", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))

		Expect(bank.Tick()).To(BeTrue())
		out := drain()
		Expect(out).To(HaveLen(1))
		Expect(out[0].Dest).To(Equal(coherence.ToMemory))

		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))
		Expect(bank.Tick()).To(BeTrue())

		Expect(bank.Quiescent()).To(BeTrue())
		Expect(bank.Stats()).To(Equal(Stats{Requests: 1, Replies: 1}))
	})

	It("should stall when the outbound buffer cannot take a process", func() {
		bank.Deliver(request(coherence.WriteReq, 0x0, 1))
		bank.Tick()
		Expect(bank.Outbound().Size()).To(Equal(2))

		bank.Deliver(request(coherence.ReadReq, 0x40, 2))
		Expect(bank.Tick()).To(BeFalse())
		Expect(bank.Stats().Stalls).To(Equal(uint64(1)))
		Expect(bank.Requests().Size()).To(Equal(1))
	})

	It("should process evictions while the MAF is full", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))
		bank.Tick()
		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))
		bank.Tick()
		drain()

		bank.Deliver(request(coherence.ReadReq, 0x0, 2))
		bank.Deliver(request(coherence.ReadReq, 0x0, 3))
		bank.Tick()
		bank.Tick()
		drain()
		Expect(bank.Engine().MAF().Full()).To(BeTrue())

		bank.Deliver(request(coherence.ReadReq, 0x0, 4))
		Expect(bank.Tick()).To(BeFalse())

		bank.Requests().Clear()
		bank.Deliver(request(coherence.EvictClean, 0x0, 1))
		Expect(bank.Tick()).To(BeTrue())

		out := drain()
		Expect(out[0].Kind).To(Equal(coherence.EvictAck))
		Expect(bank.Stats().Snoops).To(Equal(uint64(1)))
	})

	It("should keep requests behind an eviction in order", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))
		bank.Tick()
		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))
		bank.Tick()
		drain()

		bank.Deliver(request(coherence.EvictClean, 0x0, 1))
		bank.Deliver(request(coherence.ReadReq, 0x0, 2))
		bank.Tick()
		bank.Tick()

		out := drain()
		Expect(kinds(out)).To(Equal([]coherence.MsgKind{
			coherence.EvictAck, coherence.ReadReq,
		}))
		Expect(out[1].Dest).To(Equal(coherence.ToMemory))
	})

	It("should wake parked requests before taking new work", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))
		bank.Deliver(request(coherence.ReadReq, 0x40, 2))
		bank.Tick()
		bank.Tick()
		drain()

		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))
		bank.Tick()

		bank.Deliver(reply(coherence.ReadAck, 0x0, 3))
		Expect(bank.Tick()).To(BeTrue())
		Expect(bank.Stats().WakeUps).To(Equal(uint64(1)))
		Expect(bank.Replies().Size()).To(Equal(1))
	})

	It("should drain a full evict buffer ahead of requests", func() {
		bank.Deliver(request(coherence.ReadReq, 0x0, 1))
		bank.Tick()
		bank.Deliver(reply(coherence.ReadAck, 0x0, 1))
		bank.Tick()
		bank.Deliver(request(coherence.ReadReq, 0x40, 2))
		bank.Tick()
		drain()
		Expect(bank.Engine().EvictBuffer().Full()).To(BeTrue())

		bank.Deliver(request(coherence.ReadReq, 0x80, 3))
		Expect(bank.Tick()).To(BeTrue())

		out := drain()
		Expect(out[0].Kind).To(Equal(coherence.BackInvalidate))
		Expect(bank.Stats().IdleWork).To(Equal(uint64(1)))
		Expect(bank.Requests().Size()).To(Equal(1))
	})
})
