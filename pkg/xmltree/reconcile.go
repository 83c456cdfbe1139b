// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

package xmltree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/beevik/etree"
)

// ErrStillLinked is returned for a displaced node that is still attached to
// a parent when it is reconciled.
var ErrStillLinked = errors.New("displaced node is still linked into a tree")

// DisplacedList collects the nodes an operation removed from a document. It
// is filled during one operation and drained once.
type DisplacedList struct {
	nodes []etree.Token
}

// Append records a displaced node.
func (l *DisplacedList) Append(token etree.Token) {
	l.nodes = append(l.nodes, token)
}

// Len returns the number of pending nodes.
func (l *DisplacedList) Len() int { return len(l.nodes) }

// Nodes returns the pending nodes in displacement order.
func (l *DisplacedList) Nodes() []etree.Token {
	out := make([]etree.Token, len(l.nodes))
	copy(out, l.nodes)
	return out
}

// Reconciler drains displaced node lists against a Tree.
type Reconciler struct {
	tree   *Tree
	logger *slog.Logger
}

// NewReconciler creates a reconciler for tree. A nil logger uses
// slog.Default().
func NewReconciler(tree *Tree, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{tree: tree, logger: logger}
}

// Tree returns the reference layer the reconciler consults.
func (r *Reconciler) Tree() *Tree { return r.tree }

// Reconcile drains list. Referenced nodes are left alone and freed when their
// last handle goes; element nodes are released through a transient Handle so
// the tree decides; other nodes are freed directly. It returns the number of
// nodes freed now. Nodes still linked into a tree are skipped and reported in
// the returned error. The list is empty afterwards.
func (r *Reconciler) Reconcile(list *DisplacedList) (int, error) {
	var (
		freed    int
		deferred int
		errs     []error
	)

	for _, token := range list.nodes {
		if token.Parent() != nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrStillLinked, describe(token)))
			continue
		}

		if r.tree.Referenced(token) {
			deferred++
			continue
		}

		if el, ok := token.(*etree.Element); ok {
			if r.tree.Ref(el).Release() {
				freed++
			}
			continue
		}

		if r.tree.TryRelease(token) {
			freed++
		}
	}
	list.nodes = nil

	r.logger.Debug("reconciled displaced nodes",
		slog.Int("freed", freed),
		slog.Int("deferred", deferred),
		slog.Int("errors", len(errs)))

	return freed, errors.Join(errs...)
}

func describe(token etree.Token) string {
	switch t := token.(type) {
	case *etree.Element:
		return "element " + t.FullTag()
	case *etree.CharData:
		return "text"
	case *etree.Comment:
		return "comment"
	case *etree.ProcInst:
		return "processing instruction " + t.Target
	default:
		return fmt.Sprintf("%T", token)
	}
}
