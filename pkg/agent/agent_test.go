package agent_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/replydesk/pkg/agent"
)

type blockingAction struct {
	name    string
	stopped int32
	stop    chan struct{}
	fail    error
}

func newBlockingAction(name string, fail error) *blockingAction {
	return &blockingAction{name: name, stop: make(chan struct{}), fail: fail}
}

func (b *blockingAction) Name() string { return b.name }

func (b *blockingAction) Execute(ctx context.Context) error {
	if b.fail != nil {
		return b.fail
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stop:
		return nil
	}
}

func (b *blockingAction) Stop() {
	if atomic.CompareAndSwapInt32(&b.stopped, 0, 1) {
		close(b.stop)
	}
}

var _ = Describe("Agent", func() {
	var (
		a   *agent.Agent
		err error
	)

	BeforeEach(func() {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		a, err = agent.New(agent.Config{Logger: logger})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects duplicate action names", func() {
		Expect(a.RegisterAction(newBlockingAction("sync", nil))).To(Succeed())
		Expect(a.RegisterAction(newBlockingAction("sync", nil))).To(MatchError(ContainSubstring("already registered")))
		Expect(a.Actions()).To(ConsistOf("sync"))
	})

	It("stops every action when the context is cancelled", func() {
		first := newBlockingAction("first", nil)
		second := newBlockingAction("second", nil)
		Expect(a.RegisterAction(first)).To(Succeed())
		Expect(a.RegisterAction(second)).To(Succeed())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- a.Run(ctx) }()

		time.Sleep(10 * time.Millisecond)
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
		Expect(atomic.LoadInt32(&first.stopped)).To(Equal(int32(1)))
		Expect(atomic.LoadInt32(&second.stopped)).To(Equal(int32(1)))
	})

	It("stops the others when one action fails", func() {
		healthy := newBlockingAction("healthy", nil)
		Expect(a.RegisterAction(healthy)).To(Succeed())
		Expect(a.RegisterAction(newBlockingAction("broken", errors.New("boom")))).To(Succeed())

		err := a.Run(context.Background())
		Expect(err).To(MatchError(ContainSubstring("action broken failed")))
		Expect(atomic.LoadInt32(&healthy.stopped)).To(Equal(int32(1)))
	})
})

var _ = Describe("SchedulerConfig", func() {
	It("bounds intervals", func() {
		config := agent.NewDefaultSchedulerConfig()
		Expect(config.AddTask("sync_chats", time.Second, true)).To(HaveOccurred())
		Expect(config.AddTask("sync_chats", time.Minute, true)).To(Succeed())
		Expect(config.AddTask("planner", 2*time.Minute, false)).To(Succeed())

		Expect(config.Enabled("sync_chats")).To(BeTrue())
		Expect(config.Enabled("planner")).To(BeFalse())
		Expect(config.Interval("missing", agent.DefaultPlannerInterval)).To(Equal(agent.DefaultPlannerInterval))
	})
})
