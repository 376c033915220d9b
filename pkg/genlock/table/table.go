// Copyright 2026 The Genlock Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package table implements the identity side of lock sharing: a table that
// converts locks into opaque, reference-counted tokens and resolves tokens
// back into lock references.
//
// The lock engine never touches the table; it only ever sees the resolved
// lock reference. Conversely, the table never inspects lock state: a token
// pins a lock's identity, not its ownership.
package table

import (
	"sort"

	"genlock.dev/genlock/pkg/genlock"
	"genlock.dev/genlock/pkg/lockerr"
	"genlock.dev/genlock/pkg/sync"
)

// Token identifies an exported lock within one Table. Tokens are opaque to
// their holders and only meaningful to the table that minted them.
type Token int32

// Tokens is an ordering of Tokens that can be made stable.
type Tokens []Token

func (t Tokens) Len() int           { return len(t) }
func (t Tokens) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }
func (t Tokens) Less(i, j int) bool { return t[i] < t[j] }

// DefaultLimit is the table size used by New.
const DefaultLimit = 1024

// Table maps tokens to lock references. Each live token holds one reference
// on its lock, dropped when the token is dropped.
type Table struct {
	// mu protects entries.
	mu sync.Mutex

	entries map[Token]*genlock.Lock

	// limit bounds the number of live tokens.
	limit int
}

// New creates an empty table with the default size limit.
func New() *Table {
	return NewWithLimit(DefaultLimit)
}

// NewWithLimit creates an empty table holding at most limit tokens.
func NewWithLimit(limit int) *Table {
	return &Table{
		entries: make(map[Token]*genlock.Lock),
		limit:   limit,
	}
}

// Export mints a new token resolving to l, taking a reference on l that the
// token holds until dropped. Distinct Export calls for the same lock mint
// distinct tokens. The lowest free token is always used.
//
// Fails with lockerr.ErrNoSpace when the table is full.
func (t *Table) Export(l *genlock.Lock) (Token, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tok := Token(0); int(tok) < t.limit; tok++ {
		if _, ok := t.entries[tok]; !ok {
			l.IncRef()
			t.entries[tok] = l
			return tok, nil
		}
	}
	return -1, lockerr.ErrNoSpace
}

// Import resolves a token to its lock without consuming the token, and
// takes a reference on the lock for the caller. The caller owns that
// reference and typically transfers it to a handle attachment.
//
// Fails with lockerr.ErrBadToken if the token does not resolve.
func (t *Table) Import(tok Token) (*genlock.Lock, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.entries[tok]
	if !ok {
		return nil, lockerr.ErrBadToken
	}
	l.IncRef()
	return l, nil
}

// Drop invalidates a token and drops the reference it held. The lock is
// destroyed once no other token or attachment references it.
//
// Fails with lockerr.ErrBadToken if the token does not resolve.
func (t *Table) Drop(tok Token) error {
	t.mu.Lock()
	l, ok := t.entries[tok]
	if !ok {
		t.mu.Unlock()
		return lockerr.ErrBadToken
	}
	delete(t.entries, tok)
	t.mu.Unlock()

	l.DecRef()
	return nil
}

// Size returns the number of live tokens.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Live returns a stable ordering of the live tokens.
func (t *Table) Live() Tokens {
	t.mu.Lock()
	defer t.mu.Unlock()

	toks := make(Tokens, 0, len(t.entries))
	for tok := range t.entries {
		toks = append(toks, tok)
	}
	sort.Sort(toks)
	return toks
}

// Release drops every live token. Used when tearing down the table's owner.
func (t *Table) Release() {
	var removed []*genlock.Lock
	t.mu.Lock()
	for tok, l := range t.entries {
		delete(t.entries, tok)
		removed = append(removed, l)
	}
	t.mu.Unlock()

	for _, l := range removed {
		l.DecRef()
	}
}
