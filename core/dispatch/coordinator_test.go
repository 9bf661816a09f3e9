package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jammarkeun/PawfectFinds/core/directory"
	"github.com/Jammarkeun/PawfectFinds/core/model"
	"github.com/Jammarkeun/PawfectFinds/core/notify"
	"github.com/Jammarkeun/PawfectFinds/core/registry"
	"github.com/Jammarkeun/PawfectFinds/core/store"
	"github.com/Jammarkeun/PawfectFinds/infra/store/memory"
	"github.com/Jammarkeun/PawfectFinds/internal/eventbus"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

type emitted struct {
	event   string
	payload any
}

type fakeChannel struct {
	id string

	mu     sync.Mutex
	events []emitted
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(event string, payload any) error {
	c.mu.Lock()
	c.events = append(c.events, emitted{event, payload})
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) received(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var res []any
	for _, e := range c.events {
		if e.event == event {
			res = append(res, e.payload)
		}
	}
	return res
}

type roomEmit struct {
	room    string
	event   string
	payload any
}

type fakeRoom struct {
	mu    sync.Mutex
	emits []roomEmit
}

func (r *fakeRoom) PublishRoom(room, event string, payload any) error {
	r.mu.Lock()
	r.emits = append(r.emits, roomEmit{room, event, payload})
	r.mu.Unlock()
	return nil
}

func (r *fakeRoom) count(room, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.emits {
		if e.room == room && e.event == event {
			n++
		}
	}
	return n
}

type testEnv struct {
	coord *Coordinator
	reg   *registry.MemoryRegistry
	store *memory.Store
	dir   *directory.Directory
	room  *fakeRoom
	bus   *eventbus.Bus
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	st := memory.New()
	reg := registry.NewMemoryRegistry(st)
	dir := directory.New()
	room := &fakeRoom{}
	bus := eventbus.New()
	fan := notify.NewFanout(dir, nopLogger{}, room)
	coord, err := NewCoordinator(reg, st, dir, fan, nil, bus, nopLogger{}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{coord: coord, reg: reg, store: st, dir: dir, room: room, bus: bus}
}

func (e *testEnv) connectRider(t *testing.T, riderID string) *fakeChannel {
	t.Helper()
	ch := &fakeChannel{id: riderID + "-session"}
	if err := e.coord.RiderOnline(context.Background(), riderID, ch); err != nil {
		t.Fatal(err)
	}
	return ch
}

func readyOrder(id, sellerID string) model.Order {
	return model.Order{
		ID:       id,
		Number:   "PF-" + id,
		SellerID: sellerID,
		Status:   model.OrderReadyForPickup,
		Items:    []model.LineItem{{Name: "kibble", Quantity: 2, Price: 12.5}},
	}
}

func TestNewCoordinatorRequiresDeps(t *testing.T) {
	if _, err := NewCoordinator(nil, memory.New(), directory.New(), notify.NewFanout(directory.New(), nopLogger{}), nil, nil, nopLogger{}, Config{}); err == nil {
		t.Fatal("expected error for nil registry")
	}
	if _, err := NewCoordinator(registry.NewMemoryRegistry(nil), nil, directory.New(), notify.NewFanout(directory.New(), nopLogger{}), nil, nil, nopLogger{}, Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestAcceptSingleWinner(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()

	const riders = 10
	chans := make([]*fakeChannel, riders)
	for i := 0; i < riders; i++ {
		chans[i] = env.connectRider(t, fmt.Sprintf("r%d", i))
	}

	var wg sync.WaitGroup
	results := make([]error, riders)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = env.coord.Accept(ctx, fmt.Sprintf("r%d", n), "o1")
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range results {
		switch {
		case err == nil:
			winners++
			if got := chans[i].received(notify.EventOrderAccepted); len(got) != 1 {
				t.Fatalf("winner should get one order_accepted, got %d", len(got))
			}
		case errors.Is(err, store.ErrOrderTaken):
			if got := chans[i].received(notify.EventOrderAcceptError); len(got) != 1 {
				t.Fatalf("loser should get one order_accept_error, got %d", len(got))
			}
			p := chans[i].received(notify.EventOrderAcceptError)[0].(notify.OrderAcceptError)
			if p.Message != "This order is no longer available." {
				t.Fatalf("unexpected loser message %q", p.Message)
			}
		default:
			t.Fatalf("unexpected accept error: %v", results[i])
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if n := env.room.count(notify.RoomRiders, notify.EventOrderTaken); n != 1 {
		t.Fatalf("riders room should see one order_taken, got %d", n)
	}
	if n := env.room.count(notify.SellerRoom("s1"), notify.EventOrderAccepted); n != 1 {
		t.Fatalf("seller room should see one order_accepted, got %d", n)
	}
}

func TestAcceptUnknownRider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))

	if _, err := env.coord.Accept(context.Background(), "ghost", "o1"); !errors.Is(err, registry.ErrUnknownRider) {
		t.Fatalf("expected ErrUnknownRider, got %v", err)
	}
}

func TestAcceptBusyRider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	env.store.PutOrder(readyOrder("o2", "s1"))
	ctx := context.Background()
	ch := env.connectRider(t, "r1")

	if _, err := env.coord.Accept(ctx, "r1", "o1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.coord.Accept(ctx, "r1", "o2"); !errors.Is(err, registry.ErrRiderUnavailable) {
		t.Fatalf("expected ErrRiderUnavailable, got %v", err)
	}
	errs := ch.received(notify.EventOrderAcceptError)
	if len(errs) != 1 {
		t.Fatalf("expected one accept error, got %d", len(errs))
	}
	if p := errs[0].(notify.OrderAcceptError); p.Message != "You are not available to accept orders." {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestAcceptOfflineRider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()

	ch := env.connectRider(t, "r1")
	env.coord.ChannelClosed(ctx, ch.ID())

	if _, err := env.coord.Accept(ctx, "r1", "o1"); !errors.Is(err, registry.ErrRiderUnavailable) {
		t.Fatalf("expected ErrRiderUnavailable for offline rider, got %v", err)
	}
}

// failAssignRegistry simulates a registry fault after the store claim
// succeeded, forcing the compensation path.
type failAssignRegistry struct {
	registry.Registry
}

func (f failAssignRegistry) TryAssign(context.Context, string, string) error {
	return errors.New("registry fault")
}

func TestAcceptRollsBackOnRegistryFault(t *testing.T) {
	st := memory.New()
	reg := registry.NewMemoryRegistry(st)
	dir := directory.New()
	fan := notify.NewFanout(dir, nopLogger{})
	coord, err := NewCoordinator(failAssignRegistry{reg}, st, dir, fan, nil, nil, nopLogger{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	st.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	if err := reg.SetOnline(ctx, "r1"); err != nil {
		t.Fatal(err)
	}

	if _, err := coord.Accept(ctx, "r1", "o1"); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, err := st.DispatchableOrder(ctx, "o1"); err != nil {
		t.Fatalf("order should be dispatchable again after rollback: %v", err)
	}
}

func TestAcceptRedirectURL(t *testing.T) {
	env := newTestEnv(t, Config{RedirectBaseURL: "https://pawfectfinds.example/rider"})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ch := env.connectRider(t, "r1")

	if _, err := env.coord.Accept(context.Background(), "r1", "o1"); err != nil {
		t.Fatal(err)
	}
	p := ch.received(notify.EventOrderAccepted)[0].(notify.OrderAccepted)
	if p.RedirectURL != "https://pawfectfinds.example/rider/deliveries/o1" {
		t.Fatalf("unexpected redirect url %q", p.RedirectURL)
	}
	if p.Message != "Order accepted successfully!" {
		t.Fatalf("unexpected message %q", p.Message)
	}
}

func TestOfferReachesOnlyConnectedAvailableRiders(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := readyOrder("o1", "s1")
	env.store.PutOrder(o)
	ctx := context.Background()

	ch := env.connectRider(t, "r1")
	// r2 is known to the registry but holds no live channel.
	if err := env.reg.SetOnline(ctx, "r2"); err != nil {
		t.Fatal(err)
	}

	notified, err := env.coord.Offer(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if len(notified) != 1 || notified[0] != "r1" {
		t.Fatalf("expected only r1 notified, got %v", notified)
	}
	opps := ch.received(notify.EventNewDeliveryOpportunity)
	if len(opps) != 1 {
		t.Fatalf("expected one opportunity, got %d", len(opps))
	}
	if p := opps[0].(notify.DeliveryOpportunity); p.OrderID != "o1" || p.ItemsCount != 1 {
		t.Fatalf("unexpected opportunity payload: %+v", p)
	}

	// Nobody accepted: the order must still be offerable.
	if _, err := env.store.DispatchableOrder(ctx, "o1"); err != nil {
		t.Fatalf("unaccepted offer must not consume the order: %v", err)
	}
}

func TestOfferRejectsNonDispatchable(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := readyOrder("o1", "s1")
	o.Status = model.OrderDelivered
	if _, err := env.coord.Offer(context.Background(), o); !errors.Is(err, store.ErrOrderTaken) {
		t.Fatalf("expected ErrOrderTaken, got %v", err)
	}
}

func TestAdvanceStatusFullChain(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	ch := env.connectRider(t, "r1")

	d, err := env.coord.Accept(ctx, "r1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range []model.DeliveryStatus{model.DeliveryPickedUp, model.DeliveryOnTheWay, model.DeliveryDelivered} {
		if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, st, ""); err != nil {
			t.Fatalf("transition to %s: %v", st, err)
		}
	}

	r, err := env.reg.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.IsAvailable || r.CurrentOrderID != "" {
		t.Fatalf("rider should be released after delivery: %+v", r)
	}
	if got := ch.received(notify.EventDeliveryStatus); len(got) != 3 {
		t.Fatalf("rider should see every transition, got %d", len(got))
	}
	if n := env.room.count(notify.SellerRoom("s1"), notify.EventDeliveryStatus); n != 3 {
		t.Fatalf("seller room should see every transition, got %d", n)
	}
}

func TestAdvanceStatusWrongRider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	env.connectRider(t, "r1")
	env.connectRider(t, "r2")

	d, err := env.coord.Accept(ctx, "r1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r2", d.ID, model.DeliveryPickedUp, ""); !errors.Is(err, ErrNotAssignedRider) {
		t.Fatalf("expected ErrNotAssignedRider, got %v", err)
	}
}

func TestAdvanceStatusInvalidMoves(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	env.connectRider(t, "r1")

	d, err := env.coord.Accept(ctx, "r1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, model.DeliveryDelivered, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("skipping states should fail, got %v", err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, model.DeliveryAssigned, ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("moving back to assigned should fail, got %v", err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, "teleported", ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("unknown status should fail, got %v", err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", "missing", model.DeliveryPickedUp, ""); !errors.Is(err, store.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestFailedDeliveryFreesRiderAndCancelsOrder(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	env.connectRider(t, "r1")

	d, err := env.coord.Accept(ctx, "r1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, model.DeliveryFailed, "customer unreachable"); err != nil {
		t.Fatal(err)
	}
	o, err := env.store.OrderByID(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != model.OrderCancelled {
		t.Fatalf("failed delivery should cancel order, got %s", o.Status)
	}
	r, _ := env.reg.Get(ctx, "r1")
	if !r.IsAvailable {
		t.Fatal("rider should be available after failed delivery")
	}
}

func TestManualAssignDisplacesRider(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	ch1 := env.connectRider(t, "r1")
	ch2 := env.connectRider(t, "r2")

	if _, err := env.coord.Accept(ctx, "r1", "o1"); err != nil {
		t.Fatal(err)
	}
	d, err := env.coord.ManualAssign(ctx, "o1", "r2", "r1 vehicle broke down")
	if err != nil {
		t.Fatal(err)
	}
	if d.RiderID != "r2" {
		t.Fatalf("delivery should carry new rider, got %q", d.RiderID)
	}
	if got := ch1.received(notify.EventOrderReassigned); len(got) != 1 {
		t.Fatalf("displaced rider should be told, got %d events", len(got))
	}
	if got := ch2.received(notify.EventOrderAssigned); len(got) != 1 {
		t.Fatalf("new rider should be told, got %d events", len(got))
	}

	r1, _ := env.reg.Get(ctx, "r1")
	if !r1.IsAvailable || r1.CurrentOrderID != "" {
		t.Fatalf("displaced rider should be released: %+v", r1)
	}
	r2, _ := env.reg.Get(ctx, "r2")
	if r2.CurrentOrderID != "o1" {
		t.Fatalf("new rider should hold the order: %+v", r2)
	}
}

// failForceRegistry simulates a registry fault after the reassignment
// committed, forcing the manual-assign compensation path.
type failForceRegistry struct {
	registry.Registry
}

func (f failForceRegistry) ForceAssign(context.Context, string, string) error {
	return errors.New("registry fault")
}

func TestManualAssignRollsBackOnRegistryFault(t *testing.T) {
	st := memory.New()
	reg := registry.NewMemoryRegistry(st)
	dir := directory.New()
	fan := notify.NewFanout(dir, nopLogger{})
	coord, err := NewCoordinator(failForceRegistry{reg}, st, dir, fan, nil, nil, nopLogger{}, Config{})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	st.PutOrder(readyOrder("o1", "s1"))
	if err := reg.SetOnline(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetOnline(ctx, "r2"); err != nil {
		t.Fatal(err)
	}

	// Unassigned order: a registry fault reverts it to dispatchable.
	if _, err := coord.ManualAssign(ctx, "o1", "r1", ""); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, err := st.DispatchableOrder(ctx, "o1"); err != nil {
		t.Fatalf("order should be dispatchable again after rollback: %v", err)
	}

	// Assigned order: the fault restores the previous rider's claim.
	if _, err := st.AssignOrder(ctx, "o1", "r1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := reg.TryAssign(ctx, "r1", "o1"); err != nil {
		t.Fatal(err)
	}
	if _, err := coord.ManualAssign(ctx, "o1", "r2", ""); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	o, err := st.OrderByID(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if o.RiderID != "r1" {
		t.Fatalf("order should stay with the previous rider, got %q", o.RiderID)
	}
	open, err := st.OpenDeliveries(ctx, "r1")
	if err != nil || len(open) != 1 {
		t.Fatalf("previous rider should keep the open delivery: %v %v", open, err)
	}
}

func TestManualAssignClosedOrder(t *testing.T) {
	env := newTestEnv(t, Config{})
	o := readyOrder("o1", "s1")
	o.Status = model.OrderDelivered
	env.store.PutOrder(o)
	ctx := context.Background()
	env.connectRider(t, "r1")

	if _, err := env.coord.ManualAssign(ctx, "o1", "r1", ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRiderOnlineReplaysPendingOffers(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	env.store.PutOrder(readyOrder("o2", "s2"))

	ch := env.connectRider(t, "r1")
	if got := ch.received(notify.EventNewDeliveryOpportunity); len(got) != 2 {
		t.Fatalf("late-connecting rider should see all pending offers, got %d", len(got))
	}
	if n := env.room.count(notify.RoomSellers, notify.EventRiderStatus); n != 1 {
		t.Fatalf("sellers should see the presence change, got %d", n)
	}
}

func TestRiderOnlineBusyRiderGetsNoReplay(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	ch := env.connectRider(t, "r1")

	if _, err := env.coord.Accept(ctx, "r1", "o1"); err != nil {
		t.Fatal(err)
	}
	env.store.PutOrder(readyOrder("o2", "s1"))

	// Reconnect on a second device while holding a delivery.
	ch2 := &fakeChannel{id: "r1-tablet"}
	if err := env.coord.RiderOnline(ctx, "r1", ch2); err != nil {
		t.Fatal(err)
	}
	if got := ch2.received(notify.EventNewDeliveryOpportunity); len(got) != 0 {
		t.Fatalf("busy rider must not receive offers, got %d", len(got))
	}
	_ = ch
}

func TestReconnectKeepsAssignment(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	ctx := context.Background()
	ch := env.connectRider(t, "r1")

	d, err := env.coord.Accept(ctx, "r1", "o1")
	if err != nil {
		t.Fatal(err)
	}
	env.coord.ChannelClosed(ctx, ch.ID())
	env.connectRider(t, "r1")

	r, err := env.reg.Get(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if r.CurrentOrderID != "o1" || r.IsAvailable {
		t.Fatalf("reconcile should restore the assignment: %+v", r)
	}
	if _, err := env.coord.AdvanceStatus(ctx, "r1", d.ID, model.DeliveryPickedUp, ""); err != nil {
		t.Fatalf("delivery should continue after reconnect: %v", err)
	}
}

func TestChannelClosedLastChannelGoesOffline(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	phone := env.connectRider(t, "r1")
	tablet := &fakeChannel{id: "r1-tablet"}
	if err := env.coord.RiderOnline(ctx, "r1", tablet); err != nil {
		t.Fatal(err)
	}

	env.coord.ChannelClosed(ctx, phone.ID())
	r, _ := env.reg.Get(ctx, "r1")
	if !r.IsOnline {
		t.Fatal("rider with a remaining channel must stay online")
	}

	env.coord.ChannelClosed(ctx, tablet.ID())
	r, _ = env.reg.Get(ctx, "r1")
	if r.IsOnline {
		t.Fatal("rider should go offline after the last channel closes")
	}
	if n := env.room.count(notify.RoomSellers, notify.EventRiderStatus); n < 2 {
		t.Fatalf("sellers should see online and offline, got %d events", n)
	}
}

func TestChannelClosedUnknownChannelIsNoop(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.coord.ChannelClosed(context.Background(), "never-registered")
}

func TestOfferPendingBroadcastsAllReadyOrders(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.store.PutOrder(readyOrder("o1", "s1"))
	env.store.PutOrder(readyOrder("o2", "s2"))
	ctx := context.Background()
	ch := env.connectRider(t, "r1")
	before := len(ch.received(notify.EventNewDeliveryOpportunity))

	if err := env.coord.OfferPending(ctx); err != nil {
		t.Fatal(err)
	}
	after := len(ch.received(notify.EventNewDeliveryOpportunity))
	if after-before != 2 {
		t.Fatalf("expected 2 new opportunities, got %d", after-before)
	}
}

func TestRunConsumesOrderFeed(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := env.connectRider(t, "r1")

	orders := make(chan model.Order, 1)
	done := make(chan struct{})
	go func() {
		env.coord.Run(ctx, orders)
		close(done)
	}()

	o := readyOrder("o1", "s1")
	env.store.PutOrder(o)
	orders <- o

	deadline := time.After(2 * time.Second)
	for len(ch.received(notify.EventNewDeliveryOpportunity)) == 0 {
		select {
		case <-deadline:
			t.Fatal("order feed was not offered in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
