package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpane/internal/ai"
	"github.com/nhle/mailpane/internal/cache"
	"github.com/nhle/mailpane/internal/events"
	"github.com/nhle/mailpane/internal/identity"
	"github.com/nhle/mailpane/internal/store"
	"github.com/nhle/mailpane/internal/testutil"
	"github.com/nhle/mailpane/internal/workspace"
)

// fakeGenerator answers every request with a fixed result. When gate is
// set, Generate blocks until a value is sent on it.
type fakeGenerator struct {
	mu     sync.Mutex
	calls  []ai.Request
	result ai.Result
	err    error
	gate   chan struct{}
	called chan struct{}
}

func newFakeGenerator(html, text string) *fakeGenerator {
	return &fakeGenerator{
		result: ai.Result{HTML: html, Text: text},
		called: make(chan struct{}, 16),
	}
}

func (g *fakeGenerator) Generate(ctx context.Context, req ai.Request) (ai.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	gate := g.gate
	g.mu.Unlock()
	g.called <- struct{}{}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ai.Result{}, ctx.Err()
		}
	}
	return g.result, g.err
}

func (g *fakeGenerator) Calls() []ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.Request(nil), g.calls...)
}

type fixture struct {
	ctrl       *Controller
	gen        *fakeGenerator
	kv         store.KV
	clock      *testutil.Clock
	pub        *events.Publisher
	summaries  *cache.Summaries
	history    *cache.History
	workspaces *workspace.Store
}

func newFixture(t *testing.T, gen *fakeGenerator) *fixture {
	t.Helper()
	return newFixtureKV(t, gen, testutil.NewTestKV(t))
}

func newFixtureKV(t *testing.T, gen *fakeGenerator, kv store.KV) *fixture {
	t.Helper()

	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	opts := cache.Options{Now: clock.Now}
	pub := events.NewPublisher()

	f := &fixture{
		gen:        gen,
		kv:         kv,
		clock:      clock,
		pub:        pub,
		summaries:  cache.NewSummaries(kv, pub, opts),
		history:    cache.NewHistory(kv, 0, opts),
		workspaces: workspace.NewStore(kv, 0, opts),
	}
	f.ctrl = New(gen, f.summaries, f.history, f.workspaces, pub, Options{Now: clock.Now})
	return f
}

const (
	idA = identity.EmailIdentity("T1::M1")
	idB = identity.EmailIdentity("T1::M2")
)

func TestRun_CommitsToVisibleSlot(t *testing.T) {
	f := newFixture(t, newFakeGenerator("<p>Hi</p>", "Hi"))
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "Quote")
	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.Notes = "be brief"
	}))

	out, err := f.ctrl.Run(ctx, Request{Action: ai.ActionReply, EmailContext: "Please quote."})
	require.NoError(t, err)
	require.NoError(t, out.Err)
	require.Equal(t, NoticeUpdated, out.Notice)
	require.Equal(t, idA, out.Token.Identity)
	require.NotEmpty(t, out.HistoryID)

	_, view := f.ctrl.View()
	require.Equal(t, "<p>Hi</p>", view.Active().HTML)

	stored, ok := f.workspaces.Namespace().Get(ctx, idA)
	require.True(t, ok)
	require.Equal(t, "<p>Hi</p>", stored.Results[0].HTML)
	require.Equal(t, "be brief", stored.Notes)

	calls := f.gen.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "be brief", calls[0].Notes)

	hist := f.history.List(ctx, idA)
	require.Len(t, hist, 1)
	require.Equal(t, "Quote", hist[0].Subject)
	require.Equal(t, "reply", hist[0].Action)
}

func TestStart_NoCrossIdentityLeakage(t *testing.T) {
	gen := newFakeGenerator("<p>for A</p>", "for A")
	gen.gate = make(chan struct{})
	f := newFixture(t, gen)
	ctx := context.Background()

	var saved []string
	var mu sync.Mutex
	require.NoError(t, f.pub.Subscribe("bg", events.Filter{Types: []events.Type{events.BackgroundResultSaved}},
		func(e events.Event) {
			mu.Lock()
			saved = append(saved, e.EmailIdentity)
			mu.Unlock()
		}))

	f.ctrl.SetActive(ctx, idB, "T1", "B")
	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.SetActiveResult(workspace.SlotResult{HTML: "<p>B's own</p>"})
	}))

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	ch, err := f.ctrl.Start(ctx, Request{Action: ai.ActionReply, EmailContext: "A body"})
	require.NoError(t, err)
	<-gen.called

	tokB := f.ctrl.SetActive(ctx, idB, "T1", "B")
	close(gen.gate)
	out := <-ch

	require.NoError(t, out.Err)
	require.Equal(t, NoticeBackgroundSaved, out.Notice)
	require.Equal(t, idA, out.Token.Identity)

	tok, view := f.ctrl.View()
	require.Equal(t, tokB, tok)
	require.Equal(t, "<p>B's own</p>", view.Active().HTML)

	storedB, _ := f.workspaces.Load(ctx, idB)
	require.Equal(t, "<p>B's own</p>", storedB.Active().HTML)

	storedA, ok := f.workspaces.Namespace().Get(ctx, idA)
	require.True(t, ok)
	require.Equal(t, "<p>for A</p>", storedA.Active().HTML)

	mu.Lock()
	require.Equal(t, []string{string(idA)}, saved)
	mu.Unlock()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	_, view = f.ctrl.View()
	require.Equal(t, "<p>for A</p>", view.Active().HTML)
}

func TestStart_BackgroundKeepsStagedEdits(t *testing.T) {
	gen := newFakeGenerator("<p>r</p>", "r")
	gen.gate = make(chan struct{})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.Notes = "typed while waiting"
	}))
	ch, err := f.ctrl.Start(ctx, Request{Action: ai.ActionTasks, EmailContext: "x"})
	require.NoError(t, err)
	<-gen.called

	f.ctrl.SetActive(ctx, idB, "", "B")
	close(gen.gate)
	out := <-ch
	require.Equal(t, NoticeBackgroundSaved, out.Notice)

	storedA, ok := f.workspaces.Namespace().Get(ctx, idA)
	require.True(t, ok)
	require.Equal(t, "typed while waiting", storedA.Notes)
	require.Equal(t, "<p>r</p>", storedA.Active().HTML)
}

func TestStart_BusyPerAction(t *testing.T) {
	gen := newFakeGenerator("<p>x</p>", "x")
	gen.gate = make(chan struct{})
	f := newFixture(t, gen)
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	ch, err := f.ctrl.Start(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)
	<-gen.called

	_, err = f.ctrl.Start(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.ErrorIs(t, err, ErrBusy)
	require.True(t, f.ctrl.Busy(ai.ActionReply))

	ch2, err := f.ctrl.Start(ctx, Request{Action: ai.ActionRewrite, RawText: "draft"})
	require.NoError(t, err)
	<-gen.called

	close(gen.gate)
	<-ch
	<-ch2
	require.False(t, f.ctrl.Busy(ai.ActionReply))

	_, err = f.ctrl.Run(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)
}

func TestRun_FailureLeavesStateUntouched(t *testing.T) {
	gen := newFakeGenerator("", "")
	gen.err = errors.New("upstream unavailable")
	f := newFixture(t, gen)
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.SetActiveResult(workspace.SlotResult{HTML: "<p>keep</p>"})
	}))

	out, err := f.ctrl.Run(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)
	require.Equal(t, NoticeError, out.Notice)
	require.EqualError(t, out.Err, "upstream unavailable")
	require.Empty(t, out.HistoryID)

	_, view := f.ctrl.View()
	require.Equal(t, "<p>keep</p>", view.Active().HTML)
	require.False(t, f.ctrl.Busy(ai.ActionReply))
	require.Empty(t, f.history.All(ctx))
}

func TestRun_StorageFailureIsNotFatal(t *testing.T) {
	gen := newFakeGenerator("<p>x</p>", "x")
	pub := events.NewPublisher()
	opts := cache.Options{}
	kv := testutil.BrokenKV{}
	ctrl := New(gen, cache.NewSummaries(kv, pub, opts), cache.NewHistory(kv, 0, opts),
		workspace.NewStore(kv, 0, opts), pub, Options{})
	ctx := context.Background()

	ctrl.SetActive(ctx, idA, "T1", "A")
	out, err := ctrl.Run(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)
	require.Equal(t, NoticeUpdated, out.Notice)

	_, view := ctrl.View()
	require.Equal(t, "<p>x</p>", view.Active().HTML)
}

func TestStart_RequiresActive(t *testing.T) {
	f := newFixture(t, newFakeGenerator("", ""))

	_, err := f.ctrl.Start(context.Background(), Request{Action: ai.ActionReply})
	require.ErrorIs(t, err, ErrNoActive)

	_, err = f.ctrl.Start(context.Background(), Request{Action: "translate"})
	require.Error(t, err)
}

func TestSetActive_BumpsSequenceOnChangeOnly(t *testing.T) {
	f := newFixture(t, newFakeGenerator("", ""))
	ctx := context.Background()

	a := f.ctrl.SetActive(ctx, idA, "T1", "A")
	again := f.ctrl.SetActive(ctx, idA, "T1", "A (edited)")
	b := f.ctrl.SetActive(ctx, idB, "T1", "B")

	require.Equal(t, a.Seq, again.Seq)
	require.Greater(t, b.Seq, a.Seq)
}

func TestSetActive_FlushesStagedWorkspace(t *testing.T) {
	f := newFixture(t, newFakeGenerator("", ""))
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.Template = "formal"
	}))
	require.Equal(t, 1, f.workspaces.Pending())

	f.ctrl.SetActive(ctx, idB, "T1", "B")
	require.Equal(t, 0, f.workspaces.Pending())

	stored, ok := f.workspaces.Namespace().Get(ctx, idA)
	require.True(t, ok)
	require.Equal(t, "formal", stored.Template)
}

func TestSelectSlot(t *testing.T) {
	f := newFixture(t, newFakeGenerator("<p>second</p>", "second"))
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	require.NoError(t, f.ctrl.SelectSlot(1))
	require.Error(t, f.ctrl.SelectSlot(workspace.SlotCount))

	_, err := f.ctrl.Run(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)

	_, view := f.ctrl.View()
	require.Equal(t, 1, view.ActiveSlot)
	require.True(t, view.Results[0].Empty())
	require.Equal(t, "<p>second</p>", view.Results[1].HTML)
}

func TestCommitResult_ReturnDuringBackgroundWrite(t *testing.T) {
	gen := newFakeGenerator("<p>R</p>", "R")
	gen.gate = make(chan struct{})
	kv := testutil.NewHookKV(testutil.NewTestKV(t))
	f := newFixtureKV(t, gen, kv)
	ctx := context.Background()

	f.ctrl.SetActive(ctx, idA, "T1", "A")
	ch, err := f.ctrl.Start(ctx, Request{Action: ai.ActionReply, EmailContext: "x"})
	require.NoError(t, err)
	<-gen.called
	f.ctrl.SetActive(ctx, idB, "T1", "B")

	// The user comes back to A while its result is being written.
	kv.OnGetOnce(cache.WorkspaceKey, func() {
		f.ctrl.SetActive(ctx, idA, "T1", "A")
	})
	close(gen.gate)

	out := <-ch
	require.NoError(t, out.Err)
	require.Equal(t, NoticeUpdated, out.Notice)

	tok, view := f.ctrl.View()
	require.Equal(t, idA, tok.Identity)
	require.Equal(t, "<p>R</p>", view.Active().HTML)

	require.NoError(t, f.ctrl.UpdateWorkspace(func(ws *workspace.Workspace) {
		ws.Notes = "edited"
	}))
	require.NoError(t, f.workspaces.Flush(ctx))

	stored, ok := f.workspaces.Namespace().Get(ctx, idA)
	require.True(t, ok)
	require.Equal(t, "<p>R</p>", stored.Active().HTML)
	require.Equal(t, "edited", stored.Notes)
}
