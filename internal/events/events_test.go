package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/papyrus-engine/internal/bridge"
)

func TestBus_OnEmitUnsubscribe(t *testing.T) {
	b := NewBus()
	var got []string

	off1 := b.On(TypePageChanged, func(e Event) { got = append(got, "first") })
	b.On(TypePageChanged, func(e Event) { got = append(got, "second") })
	b.On(TypeZoomChanged, func(e Event) { got = append(got, "zoom") })

	b.Emit(Event{Type: TypePageChanged, Payload: PageChanged{PageNumber: 2}})
	assert.Equal(t, []string{"first", "second"}, got)

	off1()
	off1()
	got = nil
	b.Emit(Event{Type: TypePageChanged, Payload: PageChanged{PageNumber: 3}})
	assert.Equal(t, []string{"second"}, got)
}

func TestBus_InstancesAreIndependent(t *testing.T) {
	a, b := NewBus(), NewBus()
	calls := 0
	a.On(TypeDocumentLoaded, func(Event) { calls++ })
	b.Emit(Event{Type: TypeDocumentLoaded, Payload: DocumentLoaded{PageCount: 1}})
	assert.Zero(t, calls)
}

func TestBus_HandlerMayUnsubscribeDuringEmit(t *testing.T) {
	b := NewBus()
	calls := 0
	var off func()
	off = b.On(TypeSearchTriggered, func(Event) {
		calls++
		off()
	})
	b.Emit(Event{Type: TypeSearchTriggered})
	b.Emit(Event{Type: TypeSearchTriggered})
	assert.Equal(t, 1, calls)
}

func TestSubscribe_Typed(t *testing.T) {
	b := NewBus()
	var zooms []float64
	Subscribe(b, TypeZoomChanged, func(p ZoomChanged) { zooms = append(zooms, p.Zoom) })

	b.Emit(Event{Type: TypeZoomChanged, Payload: ZoomChanged{Zoom: 1.5}})
	b.Emit(Event{Type: TypeZoomChanged, Payload: "not a payload"})
	assert.Equal(t, []float64{1.5}, zooms)
}

func TestForwarder(t *testing.T) {
	b := NewBus()
	var (
		mu   sync.Mutex
		sent []string
	)
	f := Forward(b, bridge.SenderFunc(func(data string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, data)
		return nil
	}), nil)

	b.Emit(Event{Type: TypeTextSelected, Payload: TextSelected{Text: "hi", PageIndex: 2}})
	b.Emit(Event{Type: TypeAnnotationDeleted, Payload: AnnotationDeleted{AnnotationID: "a1"}})
	f.Close()
	b.Emit(Event{Type: TypePageChanged, Payload: PageChanged{PageNumber: 1}})

	require.Len(t, sent, 2)
	assert.JSONEq(t, `{"type":"TEXT_SELECTED","payload":{"text":"hi","pageIndex":2}}`, sent[0])
	assert.JSONEq(t, `{"type":"ANNOTATION_DELETED","payload":{"annotationId":"a1"}}`, sent[1])
}

func TestForwarder_SinkErrorsDoNotPropagate(t *testing.T) {
	b := NewBus()
	Forward(b, bridge.SenderFunc(func(string) error { return errors.New("closed") }), nil)
	assert.NotPanics(t, func() {
		b.Emit(Event{Type: TypeDocumentLoaded, Payload: DocumentLoaded{PageCount: 3}})
	})
}

func TestMarshal_UnsupportedPayload(t *testing.T) {
	_, err := Marshal(Event{Type: TypeTextSelected, Payload: func() {}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEXT_SELECTED")
}
