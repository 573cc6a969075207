// Package inbox drives the thread list and conversation view: which
// thread is selected, what is loaded, and whether the user may reply.
package inbox

import (
	"sort"
	"sync"
	"time"

	"github.com/edumatch/messaging/internal/domain"
)

type State int

const (
	Uninitialized State = iota
	LoadingThreads
	AwaitingSelection
	ThreadSelectedFromURL
	// ThreadSelected is a click selection whose messages are loading.
	ThreadSelected
	MessagesLoaded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case LoadingThreads:
		return "loading_threads"
	case AwaitingSelection:
		return "awaiting_selection"
	case ThreadSelectedFromURL:
		return "thread_selected_from_url"
	case ThreadSelected:
		return "thread_selected"
	case MessagesLoaded:
		return "messages_loaded"
	}
	return "unknown"
}

// ManualSelectionGuard is how long a click selection suppresses URL
// driven selection.
const ManualSelectionGuard = time.Second

// Route is the navigation state: an existing thread, or a user to start
// a conversation with.
type Route struct {
	ThreadID  string
	ContactID string
}

// View is a consistent copy of the machine for rendering.
type View struct {
	State       State
	Initialized bool
	Threads     []domain.Thread
	SelectedID  string
	Messages    []domain.Message
	// ContactID is set while previewing a conversation that has no
	// thread yet.
	ContactID string
	CanReply  bool
	Scroll    ScrollAction
}

// Machine is the inbox state machine. It performs no I/O; the Controller
// feeds it results. Safe for concurrent use.
type Machine struct {
	now func() time.Time

	mu       sync.Mutex
	state    State
	viewerID string

	identity    bool
	profile     *domain.Profile
	plan        domain.Plan
	planChecked bool
	usersReady  bool
	initialized bool

	threads   []domain.Thread
	selected  string
	messages  []domain.Message
	contactID string
	manualAt  time.Time
	manualID  string
	scroll    ScrollAction
}

func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{now: now}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start moves an uninitialized machine to LoadingThreads.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Uninitialized {
		return false
	}
	m.state = LoadingThreads
	return true
}

// LoadFailed returns a machine whose first load failed to Uninitialized,
// dropping partial results so Start can run again.
func (m *Machine) LoadFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != LoadingThreads {
		return
	}
	m.state = Uninitialized
	m.viewerID = ""
	m.identity = false
	m.profile = nil
	m.plan = ""
	m.planChecked = false
	m.usersReady = false
	m.threads = nil
}

func (m *Machine) IdentityResolved(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewerID = userID
	m.identity = true
	m.latch()
}

func (m *Machine) ProfileResolved(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = &p
	m.latch()
}

// PlanResolved records the plan lookup outcome; ok=false means it failed
// and the plan is treated as free.
func (m *Machine) PlanResolved(plan domain.Plan, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planChecked = true
	if ok {
		m.plan = plan
	} else {
		m.plan = ""
	}
	m.latch()
}

func (m *Machine) UsersResolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usersReady = true
	m.latch()
}

// latch sets initialized once every prerequisite is in. It never resets.
func (m *Machine) latch() {
	if m.initialized {
		return
	}
	if !m.identity || m.profile == nil || !m.planChecked {
		return
	}
	if m.state == Uninitialized || m.state == LoadingThreads {
		return
	}
	if len(m.threads) > 0 && !m.usersReady {
		return
	}
	m.initialized = true
}

// ThreadsLoaded installs the first thread list and applies route.
func (m *Machine) ThreadsLoaded(threads []domain.Thread, route Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = append([]domain.Thread(nil), threads...)
	domain.SortThreads(m.threads)
	if m.state == LoadingThreads {
		m.state = AwaitingSelection
		m.applyRoute(route)
	}
	m.latch()
}

func (m *Machine) threadIndex(id string) int {
	for i := range m.threads {
		if m.threads[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Machine) threadWith(userID string) string {
	for i := range m.threads {
		if m.threads[i].Has(userID) {
			return m.threads[i].ID
		}
	}
	return ""
}

// applyRoute returns the thread id selected, or "" when none was.
func (m *Machine) applyRoute(r Route) string {
	switch {
	case r.ThreadID != "" && m.threadIndex(r.ThreadID) >= 0:
		m.selectLocked(r.ThreadID, ThreadSelectedFromURL)
		return r.ThreadID
	case r.ContactID != "" && r.ContactID != m.viewerID:
		if id := m.threadWith(r.ContactID); id != "" {
			m.selectLocked(id, ThreadSelectedFromURL)
			return id
		}
		m.selected = ""
		m.messages = nil
		m.contactID = r.ContactID
	}
	return ""
}

func (m *Machine) selectLocked(id string, st State) {
	m.selected = id
	m.messages = nil
	m.contactID = ""
	m.state = st
	m.scroll = ScrollNone
}

// Navigate applies a URL change. It returns the thread to load, or ""
// when nothing changed, the route was suppressed, or it opened a contact
// preview.
func (m *Machine) Navigate(r Route) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state < AwaitingSelection {
		return ""
	}
	if m.now().Sub(m.manualAt) < ManualSelectionGuard {
		if r.ThreadID == m.manualID || (r.ContactID != "" && m.threadWith(r.ContactID) == m.manualID) {
			return ""
		}
	}
	target := r.ThreadID
	if target == "" && r.ContactID != "" {
		target = m.threadWith(r.ContactID)
	}
	if target != "" && target == m.selected {
		return ""
	}
	return m.applyRoute(r)
}

// Select is a click on a thread. It returns false when the thread is
// unknown or already open.
func (m *Machine) Select(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state < AwaitingSelection || m.threadIndex(id) < 0 {
		return false
	}
	if id == m.selected {
		return false
	}
	m.manualAt = m.now()
	m.manualID = id
	m.selectLocked(id, ThreadSelected)
	return true
}

// MessagesLoaded installs the history of threadID. Results for a thread
// that is no longer selected are dropped.
func (m *Machine) MessagesLoaded(threadID string, msgs []domain.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if threadID != m.selected {
		return false
	}
	m.messages = append([]domain.Message(nil), msgs...)
	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].CreatedAt.Before(m.messages[j].CreatedAt)
	})
	m.state = MessagesLoaded
	m.scroll = ScrollFor(true, 0)
	return true
}

// MessageReceived applies a pushed or just-sent message. distance is the
// viewport's distance from the bottom of the list.
func (m *Machine) MessageReceived(msg domain.Message, distance float64) ScrollAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.threadIndex(msg.ThreadID); i >= 0 {
		t := &m.threads[i]
		if t.LastMessageAt == nil || !msg.CreatedAt.Before(*t.LastMessageAt) {
			at := msg.CreatedAt
			t.LastMessage = msg.Content
			t.LastMessageSenderID = msg.SenderID
			t.LastMessageFileURL = msg.FileURL
			t.LastMessageMimeType = msg.MimeType
			t.LastMessageAt = &at
		}
		if msg.SenderID != m.viewerID && msg.ThreadID != m.selected && !m.seen(msg.ID) {
			t.Unread++
		}
		domain.SortThreads(m.threads)
	}

	if msg.ThreadID != m.selected || m.state != MessagesLoaded || m.seen(msg.ID) {
		return ScrollNone
	}
	m.messages = append(m.messages, msg)
	m.scroll = ScrollFor(false, distance)
	return m.scroll
}

func (m *Machine) seen(id string) bool {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return true
		}
	}
	return false
}

// ThreadUpdated merges a thread pushed by the server or returned by a
// poll. Unknown threads are added.
func (m *Machine) ThreadUpdated(t domain.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(t)
	domain.SortThreads(m.threads)
}

// ThreadsPolled merges a full thread list.
func (m *Machine) ThreadsPolled(threads []domain.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range threads {
		m.upsert(t)
	}
	domain.SortThreads(m.threads)
	m.latch()
}

func (m *Machine) upsert(t domain.Thread) {
	if i := m.threadIndex(t.ID); i >= 0 {
		m.threads[i] = t
		return
	}
	m.threads = append(m.threads, t)
}

// UnreadCleared records an explicit clear, the only way unread drops.
func (m *Machine) UnreadCleared(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.threadIndex(threadID); i >= 0 {
		m.threads[i].Unread = 0
	}
}

// ThreadCreated is called after a message to a previewed contact created
// the thread; the preview becomes a loaded conversation.
func (m *Machine) ThreadCreated(t domain.Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsert(t)
	domain.SortThreads(m.threads)
	if m.contactID != "" && t.Has(m.contactID) {
		m.selected = t.ID
		m.contactID = ""
		m.messages = nil
		m.state = MessagesLoaded
		m.scroll = ScrollInstant
	}
}

// TakeScroll returns and clears the pending scroll action.
func (m *Machine) TakeScroll() ScrollAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.scroll
	m.scroll = ScrollNone
	return a
}

func (m *Machine) canReplyLocked() bool {
	if m.profile == nil {
		return false
	}
	return CanReply(m.profile.Type, m.plan)
}

func (m *Machine) CanReply() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canReplyLocked()
}

func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return View{
		State:       m.state,
		Initialized: m.initialized,
		Threads:     append([]domain.Thread(nil), m.threads...),
		SelectedID:  m.selected,
		Messages:    append([]domain.Message(nil), m.messages...),
		ContactID:   m.contactID,
		CanReply:    m.canReplyLocked(),
		Scroll:      m.scroll,
	}
}
