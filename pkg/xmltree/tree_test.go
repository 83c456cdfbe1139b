// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmltree

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAllocator struct {
	mock.Mock
}

func (m *mockAllocator) Free(token etree.Token) {
	m.Called(token)
}

func parse(t *testing.T, xml string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc
}

// detach removes el from its parent the way an encryption step displaces a
// node.
func detach(el *etree.Element) {
	parent := el.Parent()
	parent.RemoveChildAt(el.Index())
}

func TestReconcileFreesUnreferencedNode(t *testing.T) {
	doc := parse(t, `<root><a><b/></a></root>`)
	a := doc.FindElement("//a")
	b := doc.FindElement("//b")

	alloc := &mockAllocator{}
	alloc.On("Free", b).Once()
	alloc.On("Free", a).Once()

	tree := NewTree(WithAllocator(alloc))
	detach(a)

	var list DisplacedList
	list.Append(a)

	freed, err := NewReconciler(tree, nil).Reconcile(&list)
	require.NoError(t, err)
	assert.Equal(t, 1, freed)
	assert.Zero(t, list.Len())
	assert.True(t, tree.Freed(a))
	assert.True(t, tree.Freed(b))
	alloc.AssertExpectations(t)
}

func TestReconcileDefersReferencedNode(t *testing.T) {
	doc := parse(t, `<root><a/></root>`)
	a := doc.FindElement("//a")

	alloc := &mockAllocator{}
	tree := NewTree(WithAllocator(alloc))
	h := tree.Ref(a)

	detach(a)
	var list DisplacedList
	list.Append(a)

	freed, err := NewReconciler(tree, nil).Reconcile(&list)
	require.NoError(t, err)
	assert.Zero(t, freed)
	assert.False(t, tree.Freed(a))
	alloc.AssertNotCalled(t, "Free", a)

	// The node is still usable through the handle.
	assert.Equal(t, "a", h.Element().Tag)

	alloc.On("Free", a).Once()
	assert.True(t, h.Release())
	assert.True(t, tree.Freed(a))
	alloc.AssertExpectations(t)
}

func TestReconcileKeepsReferencedDescendant(t *testing.T) {
	doc := parse(t, `<root><a><b/><c/></a></root>`)
	a := doc.FindElement("//a")
	b := doc.FindElement("//b")
	c := doc.FindElement("//c")

	alloc := &mockAllocator{}
	alloc.On("Free", c).Once()
	alloc.On("Free", a).Once()

	tree := NewTree(WithAllocator(alloc))
	hb := tree.Ref(b)

	detach(a)
	var list DisplacedList
	list.Append(a)

	_, err := NewReconciler(tree, nil).Reconcile(&list)
	require.NoError(t, err)

	assert.True(t, tree.Freed(a))
	assert.True(t, tree.Freed(c))
	assert.False(t, tree.Freed(b))
	assert.Nil(t, b.Parent(), "surviving descendant is detached")
	alloc.AssertExpectations(t)

	alloc.On("Free", b).Once()
	assert.True(t, hb.Release())
	alloc.AssertExpectations(t)
}

func TestReconcileNonElementNodes(t *testing.T) {
	doc := parse(t, `<root>text<!--note--></root>`)
	root := doc.Root()
	require.Len(t, root.Child, 2)
	text := root.Child[0]
	comment := root.Child[1]

	alloc := &mockAllocator{}
	alloc.On("Free", comment).Once()
	alloc.On("Free", text).Once()

	tree := NewTree(WithAllocator(alloc))
	root.RemoveChildAt(1)
	root.RemoveChildAt(0)

	var list DisplacedList
	list.Append(text)
	list.Append(comment)
	assert.Len(t, list.Nodes(), 2)

	freed, err := NewReconciler(tree, nil).Reconcile(&list)
	require.NoError(t, err)
	assert.Equal(t, 2, freed)
	alloc.AssertExpectations(t)
}

func TestReconcileStillLinked(t *testing.T) {
	doc := parse(t, `<root><a/><b/></root>`)
	a := doc.FindElement("//a")
	b := doc.FindElement("//b")

	alloc := &mockAllocator{}
	alloc.On("Free", b).Once()
	tree := NewTree(WithAllocator(alloc))

	detach(b)
	var list DisplacedList
	list.Append(a)
	list.Append(b)

	freed, err := NewReconciler(tree, nil).Reconcile(&list)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStillLinked)
	assert.Contains(t, err.Error(), "element a")
	assert.Equal(t, 1, freed)
	assert.False(t, tree.Freed(a))
	assert.Same(t, doc.Root(), a.Parent())
	alloc.AssertExpectations(t)
}

func TestTryReleaseIdempotent(t *testing.T) {
	el := etree.NewElement("orphan")

	alloc := &mockAllocator{}
	alloc.On("Free", el).Once()
	tree := NewTree(WithAllocator(alloc))

	assert.True(t, tree.TryRelease(el))
	assert.False(t, tree.TryRelease(el))

	var list DisplacedList
	list.Append(el)
	freed, err := NewReconciler(tree, nil).Reconcile(&list)
	require.NoError(t, err)
	assert.Zero(t, freed)
	alloc.AssertExpectations(t)
}

func TestHandleReleaseTwice(t *testing.T) {
	el := etree.NewElement("orphan")
	tree := NewTree()

	h1 := tree.Ref(el)
	h2 := tree.Ref(el)

	assert.False(t, h1.Release())
	assert.False(t, h1.Release(), "second release of the same handle is a no-op")
	assert.True(t, tree.Referenced(el))

	assert.True(t, h2.Release())
	assert.False(t, tree.Referenced(el))
	assert.True(t, tree.Freed(el))
}

func TestHandleReleaseLinkedNode(t *testing.T) {
	doc := parse(t, `<root><a/></root>`)
	a := doc.FindElement("//a")
	tree := NewTree()

	h := tree.Ref(a)
	assert.False(t, h.Release(), "linked nodes are never freed")
	assert.False(t, tree.Freed(a))
	assert.Nil(t, NewTree().Ref(etree.NewText("x")).Element())
}

type countingAllocator struct {
	mu    sync.Mutex
	count int
}

func (c *countingAllocator) Free(etree.Token) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
}

func TestReconcileRetainsNothing(t *testing.T) {
	alloc := &countingAllocator{}
	tree := NewTree(WithAllocator(alloc))
	r := NewReconciler(tree, nil)

	reconcileOne := func() {
		doc := parse(t, `<root><a><b/>text</a></root>`)
		a := doc.FindElement("//a")
		detach(a)
		var list DisplacedList
		list.Append(a)
		freed, err := r.Reconcile(&list)
		require.NoError(t, err)
		require.Equal(t, 1, freed)
		require.True(t, tree.Freed(a))
	}
	for i := 0; i < 1000; i++ {
		reconcileOne()
	}

	alloc.mu.Lock()
	assert.Equal(t, 3000, alloc.count)
	alloc.mu.Unlock()

	tree.mu.Lock()
	assert.Empty(t, tree.refs)
	tree.mu.Unlock()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return tree.tracked() == 0
	}, 5*time.Second, 10*time.Millisecond, "freed nodes are collectable once unreachable")
}
