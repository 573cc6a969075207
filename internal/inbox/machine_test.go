package inbox

import (
	"testing"
	"time"

	"github.com/edumatch/messaging/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func str(s string) *string { return &s }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func ready(m *Machine, threads []domain.Thread, r Route) {
	m.Start()
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me", Type: domain.UserApplicant})
	m.PlanResolved(domain.PlanPremium, true)
	m.ThreadsLoaded(threads, r)
	m.UsersResolved()
}

func TestThreadOrderingScenario(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{
		{ID: "t2", User1ID: "me", User2ID: "b", LastMessageAt: at("2024-01-01")},
		{ID: "t1", User1ID: "me", User2ID: "a", LastMessageAt: at("2024-01-02")},
	}, Route{})

	v := m.View()
	require.Len(t, v.Threads, 2)
	assert.Equal(t, "t1", v.Threads[0].ID)
	assert.Equal(t, "t2", v.Threads[1].ID)
	assert.Equal(t, AwaitingSelection, v.State)
}

func TestCanReplyScenario(t *testing.T) {
	assert.False(t, CanReply(domain.UserApplicant, domain.PlanFree))
	assert.False(t, CanReply(domain.UserApplicant, ""), "unresolved plan counts as free")
	assert.True(t, CanReply(domain.UserApplicant, domain.PlanStandard))
	assert.True(t, CanReply(domain.UserApplicant, domain.PlanPremium))
	assert.True(t, CanReply(domain.UserInstitution, domain.PlanFree))

	m := NewMachine(nil)
	m.Start()
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me", Type: domain.UserApplicant})
	m.PlanResolved("", false)
	m.ThreadsLoaded([]domain.Thread{{ID: "t1", User1ID: "me", User2ID: "uni"}}, Route{ThreadID: "t1"})
	m.MessagesLoaded("t1", []domain.Message{{ID: "m1", ThreadID: "t1", SenderID: "uni"}})

	v := m.View()
	assert.Len(t, v.Messages, 1, "history stays readable")
	assert.False(t, v.CanReply)
}

func TestInitializationLatch(t *testing.T) {
	m := NewMachine(nil)
	m.Start()
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me"})
	m.PlanResolved(domain.PlanFree, true)
	assert.False(t, m.View().Initialized, "threads not loaded yet")

	m.ThreadsLoaded([]domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{})
	assert.False(t, m.View().Initialized, "users not resolved yet")

	m.UsersResolved()
	assert.True(t, m.View().Initialized)

	m.ThreadsPolled(nil)
	m.ThreadUpdated(domain.Thread{ID: "t2", User1ID: "me", User2ID: "b"})
	assert.True(t, m.View().Initialized, "never regresses")
}

func TestInitializationWithoutThreads(t *testing.T) {
	m := NewMachine(nil)
	m.Start()
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me"})
	m.PlanResolved(domain.PlanFree, true)
	m.ThreadsLoaded(nil, Route{})
	assert.True(t, m.View().Initialized)
}

func TestLoadFailedAllowsRestart(t *testing.T) {
	m := NewMachine(nil)
	require.True(t, m.Start())
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me"})
	assert.False(t, m.Start(), "already loading")

	m.LoadFailed()
	assert.Equal(t, Uninitialized, m.State())
	require.True(t, m.Start())
	m.PlanResolved(domain.PlanFree, true)
	m.ThreadsLoaded(nil, Route{})
	assert.False(t, m.View().Initialized, "identity from the failed load was dropped")
	m.IdentityResolved("me")
	m.ProfileResolved(domain.Profile{UserID: "me"})
	assert.True(t, m.View().Initialized)

	m.LoadFailed()
	assert.Equal(t, AwaitingSelection, m.State(), "only a load in progress is reset")
}

func TestRouteSelectsThread(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{ThreadID: "t1"})
	assert.Equal(t, ThreadSelectedFromURL, m.State())
	assert.Equal(t, "t1", m.View().SelectedID)

	require.True(t, m.MessagesLoaded("t1", nil))
	assert.Equal(t, MessagesLoaded, m.State())
	assert.Equal(t, ScrollInstant, m.TakeScroll())
	assert.Equal(t, ScrollNone, m.TakeScroll())
}

func TestRouteUnknownThreadAwaitsSelection(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{ThreadID: "gone"})
	assert.Equal(t, AwaitingSelection, m.State())
	assert.Empty(t, m.View().SelectedID)
}

func TestContactRouteReusesExistingThread(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "a", User2ID: "me"}}, Route{ContactID: "a"})
	assert.Equal(t, "t1", m.View().SelectedID)
	assert.Empty(t, m.View().ContactID)
}

func TestContactPreview(t *testing.T) {
	m := NewMachine(nil)
	ready(m, nil, Route{ContactID: "uni"})
	v := m.View()
	assert.Equal(t, AwaitingSelection, v.State)
	assert.Equal(t, "uni", v.ContactID)

	m.ThreadCreated(domain.Thread{ID: "t9", User1ID: "me", User2ID: "uni"})
	v = m.View()
	assert.Equal(t, "t9", v.SelectedID)
	assert.Empty(t, v.ContactID)
	assert.Equal(t, MessagesLoaded, v.State)
}

func TestManualSelectionSuppressesURL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewMachine(clk.now)
	ready(m, []domain.Thread{
		{ID: "t1", User1ID: "me", User2ID: "a"},
		{ID: "t2", User1ID: "me", User2ID: "b"},
	}, Route{})

	require.True(t, m.Select("t1"))
	assert.Equal(t, ThreadSelected, m.State())
	assert.Empty(t, m.Navigate(Route{ThreadID: "t1"}), "URL echo of the click is ignored")
	assert.False(t, m.Select("t1"), "already open")

	clk.advance(500 * time.Millisecond)
	assert.Equal(t, "t2", m.Navigate(Route{ThreadID: "t2"}), "a different thread still navigates")

	clk.advance(2 * time.Second)
	assert.Equal(t, "t1", m.Navigate(Route{ThreadID: "t1"}))
}

func TestStaleMessagesDropped(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{
		{ID: "t1", User1ID: "me", User2ID: "a"},
		{ID: "t2", User1ID: "me", User2ID: "b"},
	}, Route{})
	m.Select("t1")
	m.Select("t2")
	assert.False(t, m.MessagesLoaded("t1", []domain.Message{{ID: "m1"}}))
	assert.Equal(t, ThreadSelected, m.State())
}

func TestMessagesSortedOldestFirst(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{ThreadID: "t1"})
	m.MessagesLoaded("t1", []domain.Message{
		{ID: "m2", ThreadID: "t1", CreatedAt: *at("2024-01-02")},
		{ID: "m1", ThreadID: "t1", CreatedAt: *at("2024-01-01")},
	})
	v := m.View()
	assert.Equal(t, "m1", v.Messages[0].ID)
	assert.Equal(t, "m2", v.Messages[1].ID)
}

func TestScrollPolicy(t *testing.T) {
	assert.Equal(t, ScrollInstant, ScrollFor(true, 5000))
	assert.Equal(t, ScrollSmooth, ScrollFor(false, 0))
	assert.Equal(t, ScrollSmooth, ScrollFor(false, 100))
	assert.Equal(t, ScrollNone, ScrollFor(false, 101))

	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{ThreadID: "t1"})
	m.MessagesLoaded("t1", nil)
	m.TakeScroll()

	assert.Equal(t, ScrollSmooth, m.MessageReceived(domain.Message{ID: "m1", ThreadID: "t1", SenderID: "a", CreatedAt: *at("2024-01-01")}, 40))
	assert.Equal(t, ScrollNone, m.MessageReceived(domain.Message{ID: "m2", ThreadID: "t1", SenderID: "a", CreatedAt: *at("2024-01-02")}, 400))
	assert.Len(t, m.View().Messages, 2)
}

func TestUnreadOnlyForOthersInBackgroundThreads(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{
		{ID: "t1", User1ID: "me", User2ID: "a", LastMessageAt: at("2024-01-02")},
		{ID: "t2", User1ID: "me", User2ID: "b", LastMessageAt: at("2024-01-01")},
	}, Route{ThreadID: "t1"})
	m.MessagesLoaded("t1", nil)

	m.MessageReceived(domain.Message{ID: "x1", ThreadID: "t2", SenderID: "b", Content: str("hey"), CreatedAt: *at("2024-01-03")}, 0)
	m.MessageReceived(domain.Message{ID: "x2", ThreadID: "t2", SenderID: "me", CreatedAt: *at("2024-01-04")}, 0)
	m.MessageReceived(domain.Message{ID: "x3", ThreadID: "t1", SenderID: "a", CreatedAt: *at("2024-01-05")}, 0)

	v := m.View()
	byID := map[string]domain.Thread{}
	for _, th := range v.Threads {
		byID[th.ID] = th
	}
	assert.Equal(t, 1, byID["t2"].Unread)
	assert.Equal(t, 0, byID["t1"].Unread, "selected thread does not accumulate")
	assert.Equal(t, "t1", v.Threads[0].ID, "latest message first")

	m.UnreadCleared("t2")
	for _, th := range m.View().Threads {
		assert.Zero(t, th.Unread)
	}
}

func TestDuplicatePushIgnored(t *testing.T) {
	m := NewMachine(nil)
	ready(m, []domain.Thread{{ID: "t1", User1ID: "me", User2ID: "a"}}, Route{ThreadID: "t1"})
	m.MessagesLoaded("t1", []domain.Message{{ID: "m1", ThreadID: "t1"}})
	m.MessageReceived(domain.Message{ID: "m1", ThreadID: "t1", SenderID: "a"}, 0)
	assert.Len(t, m.View().Messages, 1)
}
