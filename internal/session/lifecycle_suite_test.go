package session_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/agent/agenttest"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/policy"
	"github.com/agentbridge/agentbridge/internal/session"
	"github.com/agentbridge/agentbridge/internal/stream"
	"github.com/agentbridge/agentbridge/pkg/types"
)

func TestSessionLifecycle(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Session Lifecycle Suite")
}

var _ = Describe("Session lifecycle", func() {
	var (
		bus    *event.Bus
		broker *policy.Broker
	)

	BeforeEach(func() {
		bus = event.NewBus()
		broker = policy.NewBroker(policy.New(policy.Rules{}), bus)
		broker.SetHandler(broker.BusHandler())
	})

	AfterEach(func() {
		bus.Close()
	})

	newRegistry := func(runtime *agenttest.Runtime, cfg session.RegistryConfig) *session.Registry {
		reg := session.NewRegistry(runtime, broker, bus, cfg)
		DeferCleanup(reg.Close)
		return reg
	}

	Describe("a simple prompt", func() {
		It("streams the reply and settles back to completed", func() {
			runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
				{Emit: agent.MessageEvent{MessageID: "m1", Text: "1 + 1 = 2"}},
			}})
			reg := newRegistry(runtime, session.RegistryConfig{})

			statuses := make(chan types.SessionStatus, 8)
			unsubscribe := bus.Subscribe(event.SessionStatusChanged, func(ev event.Event) {
				statuses <- ev.Data.(event.SessionStatusChangedData).Status
			})
			DeferCleanup(unsubscribe)

			sess, err := reg.Create(context.Background(), agent.Options{})
			Expect(err).NotTo(HaveOccurred())

			mem := stream.NewMemory()
			Expect(sess.HandleRequest(context.Background(), agent.Prompt{Text: "what is 1+1"}, "", mem)).To(Succeed())

			Expect(mem.Markdowns()).To(Equal([]string{"1 + 1 = 2"}))
			Eventually(statuses).Should(Receive(Equal(types.StatusInProgress)))
			Eventually(statuses).Should(Receive(Equal(types.StatusCompleted)))
		})
	})

	Describe("interactive permissions", func() {
		It("surfaces the prompt on the bus and honors the reply", func() {
			runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
				{RequestPermission: types.ShellRequest{Command: "terraform apply"}},
				{WaitPermissions: true},
				{Emit: agent.MessageEvent{MessageID: "m1", Text: "stopped"}},
			}})
			reg := newRegistry(runtime, session.RegistryConfig{})

			// Reply "no" to whatever prompt appears.
			unsubscribe := bus.Subscribe(event.PermissionRequired, func(ev event.Event) {
				data := ev.Data.(event.PermissionRequiredData)
				broker.Respond(data.ID, false)
			})
			DeferCleanup(unsubscribe)

			replies := make(chan event.PermissionRepliedData, 1)
			unsubReplied := bus.Subscribe(event.PermissionReplied, func(ev event.Event) {
				replies <- ev.Data.(event.PermissionRepliedData)
			})
			DeferCleanup(unsubReplied)

			sess, err := reg.Create(context.Background(), agent.Options{})
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.HandleRequest(context.Background(), agent.Prompt{Text: "apply the plan"}, "", stream.NewMemory())).To(Succeed())

			fake := runtime.Sessions()[0]
			Expect(fake.Decisions).To(HaveLen(1))
			Expect(fake.Decisions[0].Approved).To(BeFalse())
			Expect(fake.Decisions[0].Outcome).To(Equal(types.OutcomeDeniedInteractively))

			var replied event.PermissionRepliedData
			Eventually(replies).Should(Receive(&replied))
			Expect(replied.SessionID).To(Equal(sess.ID()))
			Expect(replied.Outcome).To(Equal(types.OutcomeDeniedInteractively))
		})

		It("keeps a session with an unanswered prompt out of idle reclaim", func() {
			release := make(chan struct{})
			runtime := agenttest.NewRuntime(agenttest.Turn{Actions: []agenttest.Action{
				{RequestPermission: types.ShellRequest{Command: "terraform apply"}},
				{WaitPermissions: true},
				{Emit: agent.MessageEvent{MessageID: "m1", Text: "done"}},
			}})
			reg := newRegistry(runtime, session.RegistryConfig{IdleTimeout: 20 * time.Millisecond})

			unsubscribe := bus.Subscribe(event.PermissionRequired, func(ev event.Event) {
				data := ev.Data.(event.PermissionRequiredData)
				go func() {
					<-release
					broker.Respond(data.ID, true)
				}()
			})
			DeferCleanup(unsubscribe)

			sess, err := reg.Create(context.Background(), agent.Options{})
			Expect(err).NotTo(HaveOccurred())
			reg.Release(sess.ID())

			done := make(chan error, 1)
			go func() {
				done <- sess.HandleRequest(context.Background(), agent.Prompt{Text: "apply"}, "", stream.NewMemory())
			}()

			// The prompt is outstanding and the timeout has long passed,
			// yet the session must survive until the user answers.
			Consistently(func() bool {
				_, alive := reg.Get(sess.ID())
				return alive
			}, 100*time.Millisecond, 10*time.Millisecond).Should(BeTrue())

			close(release)
			Eventually(done).Should(Receive(Succeed()))
		})
	})

	Describe("deletion", func() {
		It("announces the removal on the bus", func() {
			runtime := agenttest.NewRuntime()
			reg := newRegistry(runtime, session.RegistryConfig{})

			deleted := make(chan string, 1)
			unsubscribe := bus.Subscribe(event.SessionDeleted, func(ev event.Event) {
				deleted <- ev.Data.(event.SessionDeletedData).SessionID
			})
			DeferCleanup(unsubscribe)

			sess, err := reg.Create(context.Background(), agent.Options{})
			Expect(err).NotTo(HaveOccurred())
			reg.Delete(sess.ID())

			Eventually(deleted).Should(Receive(Equal(sess.ID())))
			Expect(runtime.Sessions()[0].Closed()).To(BeTrue())
		})
	})
})
