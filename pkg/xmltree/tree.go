// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmltree

import (
	"runtime"
	"sync"
	"weak"

	"github.com/beevik/etree"
)

// Allocator is told about every node the tree frees.
type Allocator interface {
	Free(token etree.Token)
}

// Tree is the reference layer for code that keeps pointers into a document
// across operations which may displace nodes. A node referenced through a
// Handle is never freed; a detached node is freed as soon as its last Handle
// is released.
//
// Freed nodes are remembered through weak pointers only, so the Tree never
// keeps a freed subtree alive.
type Tree struct {
	mu    sync.Mutex
	refs  map[etree.Token]int
	freed map[any]struct{}
	alloc Allocator
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithAllocator sets the allocator notified on every free.
func WithAllocator(a Allocator) TreeOption {
	return func(t *Tree) {
		t.alloc = a
	}
}

// NewTree creates an empty reference layer.
func NewTree(opts ...TreeOption) *Tree {
	t := &Tree{
		refs:  make(map[etree.Token]int),
		freed: make(map[any]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle is one live reference to a node.
type Handle struct {
	tree     *Tree
	token    etree.Token
	released bool
}

// Ref takes a new reference on token.
func (t *Tree) Ref(token etree.Token) *Handle {
	t.mu.Lock()
	t.refs[token]++
	t.mu.Unlock()
	return &Handle{tree: t, token: token}
}

// Token returns the referenced node.
func (h *Handle) Token() etree.Token { return h.token }

// Element returns the referenced node as an element, or nil.
func (h *Handle) Element() *etree.Element {
	el, _ := h.token.(*etree.Element)
	return el
}

// Release drops the reference. When it was the last one and the node is
// detached, the node is freed; Release reports whether that happened.
// Releasing a handle twice is a no-op.
func (h *Handle) Release() bool {
	t := h.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	if h.released {
		return false
	}
	h.released = true

	if n := t.refs[h.token] - 1; n > 0 {
		t.refs[h.token] = n
		return false
	}
	delete(t.refs, h.token)
	return t.tryRelease(h.token)
}

// Referenced reports whether a live Handle points at token.
func (t *Tree) Referenced(token etree.Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs[token] > 0
}

// Freed reports whether token has been freed.
func (t *Tree) Freed(token etree.Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isFreed(token)
}

// TryRelease frees token when it is detached and unreferenced, and reports
// whether it did. It is idempotent: a node is freed at most once.
func (t *Tree) TryRelease(token etree.Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tryRelease(token)
}

func (t *Tree) tryRelease(token etree.Token) bool {
	if t.isFreed(token) {
		return false
	}
	if t.refs[token] > 0 || token.Parent() != nil {
		return false
	}

	if el, ok := token.(*etree.Element); ok {
		// Unlink children back to front; referenced ones survive detached
		// until their own handles go.
		for i := len(el.Child) - 1; i >= 0; i-- {
			child := el.Child[i]
			el.RemoveChildAt(i)
			if t.refs[child] == 0 {
				t.tryRelease(child)
			}
		}
	}

	t.markFreed(token)
	if t.alloc != nil {
		t.alloc.Free(token)
	}
	return true
}

func (t *Tree) isFreed(token etree.Token) bool {
	key := weakKey(token)
	if key == nil {
		return false
	}
	_, ok := t.freed[key]
	return ok
}

func (t *Tree) markFreed(token etree.Token) {
	switch v := token.(type) {
	case *etree.Element:
		remember(t, v)
	case *etree.CharData:
		remember(t, v)
	case *etree.Comment:
		remember(t, v)
	case *etree.Directive:
		remember(t, v)
	case *etree.ProcInst:
		remember(t, v)
	}
}

// forget drops the record of a freed node once it has been collected.
func (t *Tree) forget(key any) {
	t.mu.Lock()
	delete(t.freed, key)
	t.mu.Unlock()
}

// tracked returns the number of freed nodes still remembered.
func (t *Tree) tracked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.freed)
}

func remember[T any](t *Tree, p *T) {
	var key any = weak.Make(p)
	t.freed[key] = struct{}{}
	runtime.AddCleanup(p, t.forget, key)
}

func weakKey(token etree.Token) any {
	switch v := token.(type) {
	case *etree.Element:
		return weak.Make(v)
	case *etree.CharData:
		return weak.Make(v)
	case *etree.Comment:
		return weak.Make(v)
	case *etree.Directive:
		return weak.Make(v)
	case *etree.ProcInst:
		return weak.Make(v)
	}
	return nil
}
