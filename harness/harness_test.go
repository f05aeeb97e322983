package harness

import (
	"context"
	"sync"
	"time"

	"github.com/10and01/vmsim/simulator"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
)

var classicRefString = []int{0, 1, 2, 3, 0, 1, 4, 0, 1, 2, 3, 4}

func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func blockUntilDone(ctx context.Context, d time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

type eventLog struct {
	mu     sync.Mutex
	events []simulator.Event
}

func (l *eventLog) record(e simulator.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofType(t simulator.EventType) []simulator.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []simulator.Event
	for _, e := range l.events {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

var _ = Describe("PauseGate", func() {
	It("should let units through while open", func() {
		g := NewPauseGate()
		Expect(g.IsPaused()).To(BeFalse())
		Expect(g.Wait(context.Background())).To(Succeed())
	})

	It("should release every waiter with one resume", func() {
		g := NewPauseGate()
		g.Pause()
		g.Pause()

		released := make(chan struct{}, 5)
		for i := 0; i < 5; i++ {
			go func() {
				defer GinkgoRecover()
				Expect(g.Wait(context.Background())).To(Succeed())
				released <- struct{}{}
			}()
		}

		Consistently(released, 50*time.Millisecond).ShouldNot(Receive())
		g.Resume()
		for i := 0; i < 5; i++ {
			Eventually(released).Should(Receive())
		}
		g.Resume()
		Expect(g.IsPaused()).To(BeFalse())
	})

	It("should observe cancellation while paused", func() {
		g := NewPauseGate()
		g.Pause()
		ctx, cancel := context.WithCancel(context.Background())

		result := make(chan error, 1)
		go func() { result <- g.Wait(ctx) }()

		Consistently(result, 20*time.Millisecond).ShouldNot(Receive())
		cancel()
		Eventually(result).Should(Receive(MatchError(context.Canceled)))
	})
})

var _ = Describe("Harness", func() {
	var (
		mockCtrl *gomock.Controller
		config   simulator.SimConfig
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		config = simulator.SmallConfig()
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	})

	AfterEach(func() {
		cancel()
		mockCtrl.Finish()
	})

	It("should reject an invalid configuration", func() {
		config.NumProcesses = 0
		_, err := New(config)
		Expect(simulator.IsConfigError(err)).To(BeTrue())
	})

	It("should report an idle snapshot before start", func() {
		h, err := New(config)
		Expect(err).NotTo(HaveOccurred())

		snap := h.Snapshot()
		Expect(snap.Processes).To(HaveLen(3))
		Expect(snap.Statistics.Waiting).To(Equal(3))
		Expect(snap.FrameSummary.Free).To(Equal(16))
		Expect(h.RunID()).To(BeEmpty())
		Expect(h.Wait()).To(Succeed())
		Eventually(h.Done()).Should(BeClosed())
	})

	It("should run every process to completion", func() {
		h, err := New(config, WithSleep(noSleep), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())

		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		Eventually(h.Done(), 5*time.Second).Should(BeClosed())
		Expect(h.Wait()).To(Succeed())
		Expect(h.Err()).NotTo(HaveOccurred())

		stats := h.Statistics()
		Expect(stats.TotalAccesses).To(Equal(60))
		Expect(stats.TotalFaults + stats.TotalHits).To(Equal(60))
		Expect(stats.Finished).To(Equal(3))
		Expect(stats.UtilizationSamples).To(BeNumerically(">", 0))
		for _, ps := range stats.PerProcess {
			Expect(ps.Accesses).To(Equal(20))
		}

		snap := h.Snapshot()
		Expect(snap.Finished).To(BeTrue())
		Expect(snap.Cancelled).To(BeFalse())
		Expect(snap.FrameSummary.Free).To(Equal(16))
		Expect(h.CheckInvariants()).To(Succeed())
	})

	It("should sleep the configured think time before every access", func() {
		config.MaxThinkTimeMs = 3
		config.ThinkTimeDistribution = simulator.ThinkTimeFixed

		var mu sync.Mutex
		var sleeps []time.Duration
		recordSleep := func(ctx context.Context, d time.Duration) error {
			mu.Lock()
			sleeps = append(sleeps, d)
			mu.Unlock()
			return ctx.Err()
		}

		h, err := New(config, WithSleep(recordSleep), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		Expect(h.Wait()).To(Succeed())

		mu.Lock()
		defer mu.Unlock()
		Expect(sleeps).To(HaveLen(60))
		for _, d := range sleeps {
			Expect(d).To(Equal(3 * time.Millisecond))
		}
	})

	It("should admit waiting processes in request order as frames free up", func() {
		config.PhysicalMemoryBytes = 10 * config.PageSizeBytes
		log := &eventLog{}
		sink := NewMockEventSink(mockCtrl)
		sink.EXPECT().Publish(gomock.Any()).Do(log.record).AnyTimes()

		h, err := New(config, WithSleep(noSleep), WithTickInterval(time.Millisecond), WithEventSink(sink))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmLRU)).To(Succeed())
		Expect(h.Wait()).To(Succeed())

		admissions := log.ofType(simulator.EventTypeAdmission)
		Expect(admissions).To(HaveLen(3))
		pids := make([]simulator.ProcessID, 0, 3)
		for _, e := range admissions {
			pids = append(pids, e.(*simulator.AdmissionEvent).ProcessID())
		}
		Expect(pids).To(Equal([]simulator.ProcessID{0, 1, 2}))
		Expect(admissions[2].(*simulator.AdmissionEvent).Frames()).To(Or(
			Equal([]int{0, 1, 2, 3}),
			Equal([]int{4, 5, 6, 7}),
		))

		Expect(log.ofType(simulator.EventTypeAccess)).To(HaveLen(60))
		Expect(log.ofType(simulator.EventTypeCompletion)).To(HaveLen(3))
		Expect(h.CheckInvariants()).To(Succeed())
	})

	replay := func(alg simulator.Algorithm) simulator.Statistics {
		config.NumProcesses = 1
		config.DataFramesPerProcess = 3
		config.AccessesPerProcess = len(classicRefString)

		gen := NewMockAddressGenerator(mockCtrl)
		calls := make([]any, 0, len(classicRefString))
		for _, vp := range classicRefString {
			calls = append(calls, gen.EXPECT().Next().Return(vp*config.PageSizeBytes))
		}
		gomock.InOrder(calls...)

		h, err := New(config,
			WithSleep(noSleep),
			WithTickInterval(time.Millisecond),
			WithAddressGenerator(func(simulator.ProcessID) simulator.AddressGenerator { return gen }),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, alg)).To(Succeed())
		Expect(h.Wait()).To(Succeed())
		return h.Statistics()
	}

	It("should fault like a FIFO queue of three frames", func() {
		stats := replay(simulator.AlgorithmFIFO)
		Expect(stats.TotalAccesses).To(Equal(12))
		Expect(stats.TotalFaults).To(Equal(9))
	})

	It("should fault like an LRU list of three frames", func() {
		stats := replay(simulator.AlgorithmLRU)
		Expect(stats.TotalAccesses).To(Equal(12))
		Expect(stats.TotalFaults).To(Equal(10))
	})

	It("should keep counters consistent across pause and resume", func() {
		config.AccessesPerProcess = 200
		config.MaxThinkTimeMs = 2

		h, err := New(config, WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())

		Eventually(func() int { return h.Statistics().TotalAccesses }, 5*time.Second).
			Should(BeNumerically(">", 30))

		h.Pause()
		Expect(h.Snapshot().Paused).To(BeTrue())
		time.Sleep(20 * time.Millisecond) // accesses already past the gate complete

		counters := func() [3]int {
			s := h.Statistics()
			return [3]int{s.TotalAccesses, s.TotalFaults, s.TotalHits}
		}
		paused := counters()
		Expect(paused[0]).To(BeNumerically("<", 600))
		Consistently(counters, 100*time.Millisecond, 10*time.Millisecond).Should(Equal(paused))

		h.Resume()
		Eventually(h.Done(), 5*time.Second).Should(BeClosed())
		Expect(h.Wait()).To(Succeed())

		stats := h.Statistics()
		Expect(stats.TotalAccesses).To(Equal(600))
		Expect(stats.TotalFaults + stats.TotalHits).To(Equal(600))
		for _, ps := range stats.PerProcess {
			Expect(ps.Accesses).To(Equal(200))
		}
	})

	It("should stop sleeping units on cancel and keep partial statistics", func() {
		h, err := New(config, WithSleep(blockUntilDone), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())

		Eventually(func() int { return h.Statistics().Running }).Should(Equal(3))
		h.Cancel()

		Eventually(h.Done()).Should(BeClosed())
		Expect(h.Wait()).To(MatchError(simulator.ErrCancelled))
		Expect(h.Err()).NotTo(HaveOccurred())

		snap := h.Snapshot()
		Expect(snap.Cancelled).To(BeTrue())
		Expect(snap.Statistics.TotalAccesses).To(Equal(0))
		Expect(snap.FrameSummary.Free).To(Equal(4))
		Expect(h.CheckInvariants()).To(Succeed())
	})

	It("should report page tables only for running processes", func() {
		h, err := New(config, WithSleep(blockUntilDone), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		_, ok := h.PageTable(0)
		Expect(ok).To(BeFalse())

		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		Eventually(func() int { return h.Statistics().Running }).Should(Equal(3))

		entries, ok := h.PageTable(1)
		Expect(ok).To(BeTrue())
		Expect(entries).To(HaveLen(8))
		for _, frame := range entries {
			Expect(frame).To(Equal(-1))
		}
		_, ok = h.PageTable(3)
		Expect(ok).To(BeFalse())
		_, ok = h.PageTable(-1)
		Expect(ok).To(BeFalse())

		h.Cancel()
		Eventually(h.Done()).Should(BeClosed())
	})

	It("should serve consistent page tables while processes fault", func() {
		h, err := New(config, WithSleep(noSleep), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmLRU)).To(Succeed())

		for done := false; !done; {
			select {
			case <-h.Done():
				done = true
			default:
			}
			entries, ok := h.PageTable(0)
			if !ok {
				continue
			}
			seen := map[int]bool{}
			for _, frame := range entries {
				if frame == -1 {
					continue
				}
				Expect(frame).To(BeNumerically(">=", 0))
				Expect(frame).To(BeNumerically("<", 16))
				Expect(seen[frame]).To(BeFalse(), "frame %d mapped twice", frame)
				seen[frame] = true
			}
		}

		Expect(h.Wait()).To(Succeed())
		_, ok := h.PageTable(0)
		Expect(ok).To(BeFalse(), "finished processes discard their page table")
	})

	It("should abort the run on an invariant violation", func() {
		config.NumProcesses = 1
		gen := NewMockAddressGenerator(mockCtrl)
		gen.EXPECT().Next().Return(1 << 20)

		h, err := New(config,
			WithSleep(noSleep),
			WithAddressGenerator(func(simulator.ProcessID) simulator.AddressGenerator { return gen }),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())

		err = h.Wait()
		Expect(simulator.IsInvariantViolation(err)).To(BeTrue())
		Expect(h.Err()).To(Equal(err))
		Expect(h.Snapshot().Cancelled).To(BeFalse())
	})

	It("should drop events instead of blocking when nobody reads", func() {
		h, err := New(config, WithSleep(noSleep), WithTickInterval(time.Millisecond), WithEventBuffer(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		Expect(h.Wait()).To(Succeed())

		Expect(h.DroppedEvents()).To(Equal(int64(66)))
	})

	It("should deliver events on the channel when it has room", func() {
		h, err := New(config, WithSleep(noSleep), WithTickInterval(time.Millisecond), WithEventBuffer(100))
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		Expect(h.Wait()).To(Succeed())

		Expect(h.Events()).To(HaveLen(66))
		Expect(h.DroppedEvents()).To(BeZero())
	})

	It("should refuse a second start and allow a fresh run after reset", func() {
		h, err := New(config, WithSleep(blockUntilDone), WithTickInterval(time.Millisecond))
		Expect(err).NotTo(HaveOccurred())

		Expect(h.Start(ctx, simulator.AlgorithmFIFO)).To(Succeed())
		first := h.RunID()
		Expect(first).NotTo(BeEmpty())
		Expect(h.Start(ctx, simulator.AlgorithmLRU)).NotTo(Succeed())

		Expect(h.Reset()).To(Succeed())
		Expect(h.RunID()).To(BeEmpty())
		Expect(h.Snapshot().Statistics.Waiting).To(Equal(3))

		Expect(h.Start(ctx, simulator.AlgorithmLRU)).To(Succeed())
		Expect(h.RunID()).NotTo(Equal(first))
		Expect(h.Snapshot().Algorithm).To(Equal(simulator.AlgorithmLRU))

		h.Cancel()
		Expect(h.Wait()).To(MatchError(simulator.ErrCancelled))
	})
})
