package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cohsim/mem/coherence"
	"github.com/sarchlab/cohsim/mem/maf"
	"github.com/sarchlab/cohsim/sim/queueing"
)

type sampleSimulation struct {
	cycle  uint64
	paused bool
}

func (s *sampleSimulation) Name() string         { return "Sim" }
func (s *sampleSimulation) CurrentCycle() uint64 { return s.cycle }
func (s *sampleSimulation) Pause()               { s.paused = true }
func (s *sampleSimulation) Continue()            { s.paused = false }

type sampleComponent struct {
	name     string
	inbound  *queueing.Buffer[coherence.Msg]
	outbound *queueing.Buffer[coherence.Msg]
	missing  *queueing.Buffer[coherence.Msg]
	count    int
	maf      *maf.MAF
}

func (c *sampleComponent) Name() string {
	return c.name
}

func (c *sampleComponent) MAF() *maf.MAF {
	return c.maf
}

func newSampleComponent() *sampleComponent {
	b := queueing.MakeBufferBuilder().WithCapacity(4)

	return &sampleComponent{
		name:     "Comp",
		inbound:  queueing.BuildBuffer[coherence.Msg](b, "Comp.Inbound"),
		outbound: queueing.BuildBuffer[coherence.Msg](b, "Comp.Outbound"),
		maf:      maf.New("Comp.MAF", 8),
	}
}

var _ = Describe("Monitor", func() {
	var (
		m    *Monitor
		sim  *sampleSimulation
		comp *sampleComponent
	)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		m.Router().ServeHTTP(rec, req)

		return rec
	}

	BeforeEach(func() {
		m = NewMonitor()
		sim = &sampleSimulation{cycle: 42}
		comp = newSampleComponent()

		m.RegisterSimulation(sim)
		m.RegisterComponent(comp)
	})

	It("should register internal buffers and the MAF", func() {
		names := make([]string, 0, len(m.buffers))
		for _, b := range m.buffers {
			names = append(names, b.Name())
		}

		Expect(names).To(ConsistOf(
			"Comp.Inbound", "Comp.Outbound", "Comp.MAF"))
	})

	It("should sort buffers by occupancy", func() {
		comp.outbound.Push(coherence.NewMsg(coherence.ReadReq, 0, 0))
		comp.outbound.Push(coherence.NewMsg(coherence.ReadReq, 0, 1))
		_, err := comp.maf.Insert(
			coherence.NewMsg(coherence.ReadReq, 0x40, 0), maf.WaitAck)
		Expect(err).NotTo(HaveOccurred())

		byPercent := m.sortAndSelectBuffers("percent", 2, 0)
		Expect(byPercent[0].Name()).To(Equal("Comp.Outbound"))
		Expect(byPercent[1].Name()).To(Equal("Comp.MAF"))

		byLevel := m.sortAndSelectBuffers("level", 0, 1)
		Expect(byLevel).To(HaveLen(2))
		Expect(byLevel[0].Name()).To(Equal("Comp.MAF"))
	})

	It("should pause and continue the simulation", func() {
		Expect(get("/api/pause").Code).To(Equal(http.StatusOK))
		Expect(sim.paused).To(BeTrue())

		Expect(get("/api/continue").Code).To(Equal(http.StatusOK))
		Expect(sim.paused).To(BeFalse())
	})

	It("should report the current cycle", func() {
		Expect(get("/api/now").Body.String()).To(MatchJSON(`{"now":42}`))
	})

	It("should list components", func() {
		Expect(get("/api/list_components").Body.String()).
			To(MatchJSON(`["Comp"]`))
	})

	It("should return 404 for unknown components", func() {
		Expect(get("/api/component/Nope").Code).To(Equal(http.StatusNotFound))
	})

	It("should list MAF entries", func() {
		_, err := comp.maf.Insert(
			coherence.NewMsg(coherence.WriteReq, 0x80, 3), maf.WaitAck)
		Expect(err).NotTo(HaveOccurred())

		rec := get("/api/maf/Comp")

		var entries []mafEntryRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &entries)).To(Succeed())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Address).To(Equal("0x80"))
		Expect(entries[0].Requester).To(Equal(3))
		Expect(entries[0].State).To(Equal(maf.WaitAck.String()))
	})

	It("should report buffer levels", func() {
		comp.inbound.Push(coherence.NewMsg(coherence.ReadReq, 0, 0))

		rec := get("/api/hangdetector/buffers?sort=level&limit=1")

		var rsp []bufferRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(Equal([]bufferRsp{
			{Buffer: "Comp.Inbound", Level: 1, Cap: 4},
		}))
	})

	It("should reject unknown sort methods", func() {
		rec := get("/api/hangdetector/buffers?sort=name")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should reject malformed field requests", func() {
		rec := get("/api/field/" + url.PathEscape("{not json"))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("Accesses", 10)
		bar.IncrementInProgress(3)
		bar.MoveInProgressToFinished(2)

		var bars []ProgressBar
		Expect(json.Unmarshal(get("/api/progress").Body.Bytes(), &bars)).
			To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].ID).NotTo(BeEmpty())
		Expect(bars[0].Finished).To(Equal(uint64(2)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)

		Expect(get("/api/progress").Body.String()).To(MatchJSON(`[]`))
	})

	It("should report cycles and transactions of a run", func() {
		bar := m.CreateProgressBar("Accesses", 10)
		Expect(bar.CyclesPerAccess()).To(BeZero())

		bar.Update(40, 4, 2, 3)
		bar.Update(41, 3, 1, 1)

		var bars []map[string]any
		Expect(json.Unmarshal(get("/api/progress").Body.Bytes(), &bars)).
			To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0]).To(HaveKeyWithValue("cycle", 41.0))
		Expect(bars[0]).To(HaveKeyWithValue("finished", 4.0))
		Expect(bars[0]).To(HaveKeyWithValue("in_progress", 1.0))
		Expect(bars[0]).To(HaveKeyWithValue("transactions", 1.0))
		Expect(bars[0]).To(HaveKeyWithValue("cycles_per_access", 10.25))
	})
})
