package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/canvaslink/canvaslink/internal/authgate"
	"github.com/canvaslink/canvaslink/internal/canvashub"
	"github.com/canvaslink/canvaslink/internal/connregistry"
	"github.com/canvaslink/canvaslink/internal/domain"
	"github.com/canvaslink/canvaslink/internal/refreshregistry"
)

type fakeEvents struct {
	mu      sync.Mutex
	records map[string][][]byte
}

func newFakeEvents() *fakeEvents { return &fakeEvents{records: make(map[string][][]byte)} }

func (f *fakeEvents) Append(canvasID string, record []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[canvasID] = append(f.records[canvasID], record)
	return nil
}

func (f *fakeEvents) Replay(canvasID string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.records[canvasID]...), nil
}

type fakeStore struct {
	canvases map[string]domain.Canvas
}

func (f *fakeStore) GetCanvas(ctx context.Context, canvasID string) (*domain.Canvas, error) {
	c, ok := f.canvases[canvasID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (f *fakeStore) SetModerated(ctx context.Context, canvasID string, moderated bool) error {
	c := f.canvases[canvasID]
	c.Moderated = moderated
	f.canvases[canvasID] = c
	return nil
}

type fakeTokens struct{}

func (fakeTokens) Verify(string) (domain.Claims, error) { return domain.Claims{}, nil }
func (fakeTokens) Reissue(context.Context, domain.Claims) (string, domain.Claims, error) {
	return "", domain.Claims{}, errors.New("reissue should not be called in these tests")
}

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSink) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) last() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	_ = json.Unmarshal(s.frames[len(s.frames)-1], &m)
	return m
}

func newFixture(t *testing.T, canvasID string, level domain.Level) (*Session, *connregistry.Connection, *recordingSink, *canvashub.Manager) {
	t.Helper()
	events := newFakeEvents()
	store := &fakeStore{canvases: map[string]domain.Canvas{canvasID: {CanvasID: canvasID}}}
	hubs := canvashub.NewManager(events, store, nil)
	reg := connregistry.New()
	gate := authgate.New(fakeTokens{}, refreshregistry.New())

	sink := &recordingSink{}
	conn := reg.Insert(sink, domain.Claims{
		UserID:        1,
		Permissions:   map[string]domain.Level{canvasID: level},
		HardExp:       time.Now().Add(time.Hour),
		SoftReissueAt: time.Now().Add(time.Hour),
	})

	return New(conn, reg, hubs, gate), conn, sink, hubs
}

func frame(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func TestRegisterForCanvasSubscribesOnSuccess(t *testing.T) {
	s, _, sink, _ := newFixture(t, "c1", domain.LevelRead)

	err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "registerForCanvas", "canvasId": "c1",
	}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}

	last := sink.last()
	if _, ok := last["yourPermission"]; !ok {
		t.Fatalf("last frame = %v, want yourPermission preamble", last)
	}
	if !s.isSubscribed("c1") {
		t.Fatal("expected session to record the subscription")
	}
}

func TestRegisterForCanvasUnknownCanvasSendsError(t *testing.T) {
	s, _, sink, _ := newFixture(t, "c1", domain.LevelRead)

	err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "registerForCanvas", "canvasId": "does-not-exist",
	}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v, want nil (error frame, not close)", err)
	}

	last := sink.last()
	if _, ok := last["error"]; !ok {
		t.Fatalf("last frame = %v, want error frame", last)
	}
}

func TestEventsForUnsubscribedCanvasAreDiscarded(t *testing.T) {
	s, _, _, _ := newFixture(t, "c1", domain.LevelWrite)

	err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"canvasId": "c1", "eventsForCanvas": []map[string]any{{"type": "a"}},
	}))
	if err != nil {
		t.Fatalf("HandleFrame() error = %v", err)
	}
	if s.isSubscribed("c1") {
		t.Fatal("HandleFrame() should not have subscribed the connection as a side effect")
	}
}

func TestDoubleUnregisterIsIdempotent(t *testing.T) {
	s, _, _, _ := newFixture(t, "c1", domain.LevelRead)

	_ = s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "registerForCanvas", "canvasId": "c1",
	}))
	if err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "unregisterForCanvas", "canvasId": "c1",
	})); err != nil {
		t.Fatalf("first unregister error = %v", err)
	}
	if err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "unregisterForCanvas", "canvasId": "c1",
	})); err != nil {
		t.Fatalf("second unregister error = %v", err)
	}
	if s.isSubscribed("c1") {
		t.Fatal("expected canvas to be unsubscribed")
	}
}

func TestHardExpiredClaimsCloseConnectionOnRegister(t *testing.T) {
	events := newFakeEvents()
	store := &fakeStore{canvases: map[string]domain.Canvas{"c1": {CanvasID: "c1"}}}
	hubs := canvashub.NewManager(events, store, nil)
	reg := connregistry.New()
	gate := authgate.New(fakeTokens{}, refreshregistry.New())

	sink := &recordingSink{}
	conn := reg.Insert(sink, domain.Claims{
		UserID:      1,
		Permissions: map[string]domain.Level{"c1": domain.LevelRead},
		HardExp:     time.Now().Add(-time.Second),
	})
	s := New(conn, reg, hubs, gate)

	err := s.HandleFrame(context.Background(), frame(t, map[string]any{
		"command": "registerForCanvas", "canvasId": "c1",
	}))
	if !errors.Is(err, ErrHardExpired) {
		t.Fatalf("HandleFrame() error = %v, want ErrHardExpired", err)
	}
}

func TestMalformedFrameIsDiscardedNotClosed(t *testing.T) {
	s, _, _, _ := newFixture(t, "c1", domain.LevelRead)

	if err := s.HandleFrame(context.Background(), []byte(`{not json`)); err != nil {
		t.Fatalf("HandleFrame() error = %v, want nil", err)
	}
}
