package snapshot

import (
	"context"
	"errors"
	"sync"
)

// ReadyFunc runs when a page signals it is ready.
type ReadyFunc func(ctx context.Context, doc Document) error

// Page models one page load. Handlers registered with OnReady run once,
// in registration order, the first time Ready is called.
type Page struct {
	doc Document

	mu       sync.Mutex
	handlers []ReadyFunc
	once     sync.Once
	err      error
}

// NewPage creates a page for the given document.
func NewPage(doc Document) *Page {
	return &Page{doc: doc}
}

// Document returns the page document.
func (p *Page) Document() Document {
	if p == nil {
		return nil
	}
	return p.doc
}

// OnReady registers fn for the ready signal.
func (p *Page) OnReady(fn ReadyFunc) {
	if p == nil || fn == nil {
		return
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, fn)
	p.mu.Unlock()
}

// Ready fires the ready signal. Later calls return the first result
// without running handlers again.
func (p *Page) Ready(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.once.Do(func() {
		p.mu.Lock()
		handlers := append([]ReadyFunc(nil), p.handlers...)
		p.mu.Unlock()

		var errs []error
		for _, fn := range handlers {
			if err := fn(ctx, p.doc); err != nil {
				errs = append(errs, err)
			}
		}
		p.err = errors.Join(errs...)
	})
	return p.err
}
