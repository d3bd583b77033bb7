package gateway

import (
	"context"
	"sync"
)

// fakeMsg is one queued inbound frame for fakeTransport.
type fakeMsg struct {
	kind MessageKind
	data []byte
}

type writtenMsg struct {
	kind MessageKind
	data []byte
}

// fakeTransport is an in-memory Transport double: Read drains a preloaded
// queue then blocks until the caller's context is canceled (matching a real
// socket that simply has nothing more to deliver), and Write calls are
// recorded for assertions, mirroring the teacher's hand-rolled mock
// providers (pkg/orchestrator's MockSTTProvider et al.) rather than a
// generic mocking library.
type fakeTransport struct {
	toRead chan fakeMsg

	writeMu sync.Mutex
	written []writtenMsg

	closeMu     sync.Mutex
	closeReason string
	closeCalled bool
}

func newFakeTransport(msgs ...fakeMsg) *fakeTransport {
	ch := make(chan fakeMsg, len(msgs)+1)
	for _, m := range msgs {
		ch <- m
	}
	return &fakeTransport{toRead: ch}
}

func (t *fakeTransport) Read(ctx context.Context) (MessageKind, []byte, error) {
	select {
	case m := <-t.toRead:
		return m.kind, m.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.written = append(t.written, writtenMsg{kind: KindText, data: append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) WriteBinary(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.written = append(t.written, writtenMsg{kind: KindBinary, data: append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) Close(reason string) error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	t.closeCalled = true
	t.closeReason = reason
	return nil
}

func (t *fakeTransport) RemoteAddr() string { return "fake-remote-addr" }

func (t *fakeTransport) writtenCopy() []writtenMsg {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return append([]writtenMsg(nil), t.written...)
}

var _ Transport = (*fakeTransport)(nil)
