// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package xmltree keeps external references into an etree document safe while
encryption and decryption replace parts of it.

Code that holds on to nodes across such an operation takes a Handle on them:

	tree := xmltree.NewTree()
	h := tree.Ref(doc.FindElement("//Payment"))
	defer h.Release()

	ctx, _ := encryption.NewContext(nil, encryption.WithKey(key), encryption.WithTree(tree))
	encData, err := ctx.EncryptXML(tmpl, h.Element())

Nodes displaced by the operation are collected in a DisplacedList and drained
by a Reconciler before the operation returns. A displaced node is never freed
while a Handle points at it, and is freed as soon as the last Handle is
released. Tree.TryRelease is the single release operation used by both paths.

Freed nodes are tracked through weak pointers, so a long-lived Tree shared by
many operations does not keep freed subtrees in memory.
*/
package xmltree
