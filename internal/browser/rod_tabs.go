package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"tab-relay/internal/models"
)

// agentReceiveJS hands a message to the page agent and returns its acknowledgement.
const agentReceiveJS = `(msg) => {
	const agent = window.__tabRelayAgent;
	if (!agent || typeof agent.receive !== "function") return false;
	return agent.receive(msg) !== false;
}`

var _ Tabs = (*RodTabs)(nil)

// LaunchConfig selects how Chrome is reached.
type LaunchConfig struct {
	DebuggerURL string
	ChromeBin   string
	Headless    bool
	AgentScript string
}

type rodTab struct {
	page    *rod.Page
	subs    map[int]chan TabEvent
	nextSub int
	stop    context.CancelFunc
}

// RodTabs drives Chrome tabs through the DevTools protocol.
type RodTabs struct {
	mu      sync.Mutex
	browser *rod.Browser
	owned   bool
	agentJS string
	tabs    map[string]*rodTab
	ctx     context.Context
	log     *logrus.Entry
}

// Launch connects to DebuggerURL, or launches a local Chrome when it is empty.
func Launch(ctx context.Context, cfg LaunchConfig, log *logrus.Entry) (*RodTabs, error) {
	controlURL := cfg.DebuggerURL
	owned := false
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if cfg.ChromeBin != "" {
			l = l.Bin(cfg.ChromeBin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		owned = true
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	t := &RodTabs{
		browser: b,
		owned:   owned,
		agentJS: cfg.AgentScript,
		tabs:    make(map[string]*rodTab),
		ctx:     ctx,
		log:     log,
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b); err != nil {
		log.Warnf("target discovery unavailable: %v", err)
	} else {
		wait := b.EachEvent(func(e *proto.TargetTargetDestroyed) {
			t.forget(string(e.TargetID))
		})
		go wait()
	}
	return t, nil
}

// Shutdown closes every tab we opened and the browser if we launched it.
func (t *RodTabs) Shutdown() error {
	t.mu.Lock()
	ids := make([]string, 0, len(t.tabs))
	for id := range t.tabs {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		_ = t.Close(context.Background(), id)
	}
	if t.owned {
		return t.browser.Close()
	}
	return nil
}

func (t *RodTabs) Open(ctx context.Context, url string) (TabState, error) {
	page, err := t.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return TabState{}, fmt.Errorf("create target: %w", err)
	}
	id := string(page.TargetID)

	if t.agentJS != "" {
		if _, err := page.EvalOnNewDocument(t.agentJS); err != nil {
			_ = page.Close()
			return TabState{}, fmt.Errorf("install agent: %w", err)
		}
	}

	watchCtx, stop := context.WithCancel(t.ctx)
	t.mu.Lock()
	t.tabs[id] = &rodTab{page: page, subs: make(map[int]chan TabEvent), stop: stop}
	t.mu.Unlock()
	t.watch(watchCtx, id, page)

	if _, err := page.Activate(); err != nil {
		t.log.WithField("tab_id", id).Warnf("activate failed: %v", err)
	}
	if err := page.Context(ctx).Navigate(url); err != nil {
		_ = t.Close(context.Background(), id)
		return TabState{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	return TabState{ID: id, URL: url, Status: StatusLoading}, nil
}

// watch forwards page load and top-frame navigation events to subscribers.
func (t *RodTabs) watch(ctx context.Context, id string, page *rod.Page) {
	wait := page.Context(ctx).EachEvent(
		func(e *proto.PageLoadEventFired) {
			t.emit(id, TabEvent{Kind: EventLoaded})
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" {
				return
			}
			t.emit(id, TabEvent{Kind: EventNavigated, URL: e.Frame.URL})
		},
	)
	go wait()
}

func (t *RodTabs) emit(id string, ev TabEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tab, ok := t.tabs[id]
	if !ok {
		return
	}
	for _, ch := range tab.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (t *RodTabs) page(id string) (*rod.Page, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tab, ok := t.tabs[id]
	if !ok {
		return nil, false
	}
	return tab.page, true
}

func (t *RodTabs) Get(ctx context.Context, id string) (TabState, error) {
	page, ok := t.page(id)
	if !ok {
		return TabState{}, ErrTabNotFound
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return TabState{}, fmt.Errorf("%w: %v", ErrTabNotFound, err)
	}
	state := TabState{ID: id, URL: info.URL, Status: StatusLoading}
	res, err := page.Context(ctx).Eval(`() => document.readyState`)
	if err == nil && res.Value.Str() == StatusComplete {
		state.Status = StatusComplete
	}
	return state, nil
}

func (t *RodTabs) Close(ctx context.Context, id string) error {
	t.mu.Lock()
	tab, ok := t.tabs[id]
	t.mu.Unlock()
	if !ok {
		return ErrTabNotFound
	}
	err := tab.page.Context(ctx).Close()
	t.forget(id)
	if err != nil && !strings.Contains(err.Error(), "No target with given id") {
		return fmt.Errorf("close tab %s: %w", id, err)
	}
	return nil
}

// forget drops a tab and notifies its subscribers that it is gone.
func (t *RodTabs) forget(id string) {
	t.mu.Lock()
	tab, ok := t.tabs[id]
	if ok {
		delete(t.tabs, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	tab.stop()
	for _, ch := range tab.subs {
		select {
		case ch <- TabEvent{Kind: EventClosed}:
		default:
		}
	}
}

func (t *RodTabs) SendMessage(ctx context.Context, id string, msg models.SearchContext) error {
	page, ok := t.page(id)
	if !ok {
		return ErrTabNotFound
	}
	res, err := page.Context(ctx).Eval(agentReceiveJS, msg)
	if err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	if !res.Value.Bool() {
		return ErrAgentUnavailable
	}
	return nil
}

func (t *RodTabs) Subscribe(id string) (<-chan TabEvent, func()) {
	ch := make(chan TabEvent, 8)
	t.mu.Lock()
	tab, ok := t.tabs[id]
	if !ok {
		t.mu.Unlock()
		ch <- TabEvent{Kind: EventClosed}
		return ch, func() {}
	}
	key := tab.nextSub
	tab.nextSub++
	tab.subs[key] = ch
	t.mu.Unlock()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if tab, ok := t.tabs[id]; ok {
			delete(tab.subs, key)
		}
	}
}
