package core

// BlockStore is the append-only per-account log: one file per address,
// one JSON-serialized Block per line. Appends are serialized per address
// via a per-address mutex so concurrent requests against different
// accounts never contend, while requests against the same account are
// totally ordered.

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var storeLog = logrus.WithField("component", "blockstore")

// ErrNotFound is returned when a block or account is absent.
type ErrNotFound struct {
	Address, ID string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("blockstore: account %q not found", e.Address)
	}
	return fmt.Sprintf("blockstore: block %s/%s not found", e.Address, e.ID)
}

// addressLock is a per-address actor guard: one mutex per account file,
// created lazily. Never held across network suspension points.
type addressLock struct {
	mu sync.Mutex
}

// BlockStore owns the on-disk chain files under dataDir/Accounts/.
type BlockStore struct {
	dataDir string

	locksMu sync.Mutex
	locks   map[string]*addressLock

	headMu sync.RWMutex
	heads  map[string]*Block // invalidated on append, recomputed lazily
}

// NewBlockStore creates (if absent) the Accounts directory under dataDir
// and returns a ready store.
func NewBlockStore(dataDir string) (*BlockStore, error) {
	dir := filepath.Join(dataDir, "Accounts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blockstore: mkdir: %w", err)
	}
	return &BlockStore{
		dataDir: dataDir,
		locks:   make(map[string]*addressLock),
		heads:   make(map[string]*Block),
	}, nil
}

func (s *BlockStore) accountPath(address string) string {
	return filepath.Join(s.dataDir, "Accounts", address)
}

func (s *BlockStore) lockFor(address string) *addressLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[address]
	if !ok {
		l = &addressLock{}
		s.locks[address] = l
	}
	return l
}

// Append writes block as a new line in address's chain file. Callers
// (StateMachine) are responsible for having validated the block; Append
// still re-checks invariants 2 and 3 itself, defense in depth per §5.
func (s *BlockStore) Append(address string, block Block) error {
	lock := s.lockFor(address)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	existing, err := s.loadChain(address)
	if err != nil {
		return err
	}
	for _, b := range existing {
		if b.Previous == block.Previous {
			return fmt.Errorf("blockstore: append would fork (address=%s previous=%s)", address, block.Previous)
		}
	}
	if len(existing) > 0 {
		head, err := orderChain(existing)
		if err != nil {
			return err
		}
		if block.Previous != head[len(head)-1].ID {
			return fmt.Errorf("blockstore: append previous %q does not match head %q", block.Previous, head[len(head)-1].ID)
		}
	} else if block.Previous != ZeroPrevious {
		return fmt.Errorf("blockstore: first block of %s must have previous %s", address, ZeroPrevious)
	}

	line, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("blockstore: marshal: %w", err)
	}
	f, err := os.OpenFile(s.accountPath(address), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("blockstore: open %s: %w", address, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("blockstore: write %s: %w", address, err)
	}

	s.headMu.Lock()
	delete(s.heads, address)
	s.headMu.Unlock()
	return nil
}

// Get returns the block with the given id in address's chain.
func (s *BlockStore) Get(address, id string) (Block, error) {
	chain, err := s.loadChain(address)
	if err != nil {
		return Block{}, err
	}
	for _, b := range chain {
		if b.ID == id {
			return b, nil
		}
	}
	return Block{}, ErrNotFound{Address: address, ID: id}
}

// Head returns the tail block of address's chain: the one block no other
// block in the chain names as Previous.
func (s *BlockStore) Head(address string) (Block, error) {
	s.headMu.RLock()
	if cached, ok := s.heads[address]; ok {
		s.headMu.RUnlock()
		return *cached, nil
	}
	s.headMu.RUnlock()

	chain, err := s.loadChain(address)
	if err != nil {
		return Block{}, err
	}
	if len(chain) == 0 {
		return Block{}, ErrNotFound{Address: address}
	}
	ordered, err := orderChain(chain)
	if err != nil {
		return Block{}, err
	}
	head := ordered[len(ordered)-1]

	s.headMu.Lock()
	s.heads[address] = &head
	s.headMu.Unlock()
	return head, nil
}

// List returns every address with at least one block on disk.
func (s *BlockStore) List() ([]string, error) {
	dir := filepath.Join(s.dataDir, "Accounts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockstore: list: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// Chain returns every block of address's chain, in chain order (root
// first, head last). Used by ChainValidator and LedgerSync.
func (s *BlockStore) Chain(address string) ([]Block, error) {
	chain, err := s.loadChain(address)
	if err != nil {
		return nil, err
	}
	return orderChain(chain)
}

// loadChain reads address's file line by line. A line that fails to parse
// is a store fault (§7c): it is logged and dropped, not fatal.
func (s *BlockStore) loadChain(address string) ([]Block, error) {
	f, err := os.Open(s.accountPath(address))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blockstore: open %s: %w", address, err)
	}
	defer f.Close()

	var blocks []Block
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var b Block
		if err := json.Unmarshal(line, &b); err != nil {
			storeLog.WithFields(logrus.Fields{"address": address, "line": lineNo}).
				Warn("discarding unparseable ledger line")
			continue
		}
		blocks = append(blocks, b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("blockstore: scan %s: %w", address, err)
	}
	return blocks, nil
}

// overwriteChain replaces address's on-disk chain wholesale with blocks, as
// used by LedgerSync after a snapshot transfer. The per-address lock is
// held for the whole write so no append races a sync overwrite.
func (s *BlockStore) overwriteChain(address string, blocks []Block) error {
	lock := s.lockFor(address)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	f, err := os.OpenFile(s.accountPath(address), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("blockstore: overwrite %s: %w", address, err)
	}
	defer f.Close()
	for _, b := range blocks {
		line, err := json.Marshal(b)
		if err != nil {
			continue
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}

	s.headMu.Lock()
	delete(s.heads, address)
	s.headMu.Unlock()
	return nil
}

// orderChain reconstructs chain order by walking Previous links: the
// root (Previous == ZeroPrevious) goes first, then each following block is
// spliced immediately after the block whose ID matches its Previous,
// iterating to a fixed point. O(n^2) on a single account's chain, which is
// acceptable at the sizes a single account accrues.
func orderChain(blocks []Block) ([]Block, error) {
	if len(blocks) == 0 {
		return nil, nil
	}
	remaining := append([]Block(nil), blocks...)
	ordered := make([]Block, 0, len(blocks))

	rootIdx := -1
	for i, b := range remaining {
		if b.Previous == ZeroPrevious {
			rootIdx = i
			break
		}
	}
	if rootIdx == -1 {
		return nil, fmt.Errorf("blockstore: chain has no root block")
	}
	ordered = append(ordered, remaining[rootIdx])
	remaining = append(remaining[:rootIdx], remaining[rootIdx+1:]...)

	for len(remaining) > 0 {
		progressed := false
		tailID := ordered[len(ordered)-1].ID
		for i, b := range remaining {
			if b.Previous == tailID {
				ordered = append(ordered, b)
				remaining = append(remaining[:i], remaining[i+1:]...)
				progressed = true
				break
			}
		}
		if !progressed {
			return nil, fmt.Errorf("blockstore: chain is not contiguous (%d block(s) unreachable)", len(remaining))
		}
	}
	return ordered, nil
}
