package core

// LedgerSync is a whole-ledger snapshot transfer for new joiners, running
// on the sync port (selfPort + 1). The serving side streams, per account,
// an "Account:{address}" framing line followed by one line per block,
// terminated by the sentinel line "ayothatsall".

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

var syncLog = logrus.WithField("component", "ledgersync")

const syncSentinel = "ayothatsall"

// ServeSnapshot writes the full ledger held by store to w in the framed
// line format described above.
func ServeSnapshot(store *BlockStore, w io.Writer) error {
	addresses, err := store.List()
	if err != nil {
		return fmt.Errorf("ledgersync: list accounts: %w", err)
	}
	bw := bufio.NewWriter(w)
	for _, addr := range addresses {
		if _, err := fmt.Fprintf(bw, "Account:%s\n", addr); err != nil {
			return err
		}
		chain, err := store.loadChain(addr)
		if err != nil {
			syncLog.WithError(err).WithField("address", addr).Warn("skipping unreadable account during sync")
			continue
		}
		for _, b := range chain {
			line, err := canonicalJSON(b)
			if err != nil {
				continue
			}
			if _, err := bw.Write(append(line, '\n')); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprintln(bw, syncSentinel); err != nil {
		return err
	}
	return bw.Flush()
}

// ReceiveSnapshot reads a framed snapshot from r, grouping lines by the
// last-seen "Account:" marker, and overwrites store's local chain files
// with the received content for each account.
func ReceiveSnapshot(store *BlockStore, r io.Reader) error {
	accounts := make(map[string][]Block)
	var current string

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == syncSentinel {
			break
		}
		if strings.HasPrefix(line, "Account:") {
			current = strings.TrimPrefix(line, "Account:")
			if _, ok := accounts[current]; !ok {
				accounts[current] = nil
			}
			continue
		}
		if current == "" || line == "" {
			continue
		}
		var b Block
		if err := unmarshalJSON([]byte(line), &b); err != nil {
			syncLog.WithField("address", current).Warn("dropping unparseable synced line")
			continue
		}
		accounts[current] = append(accounts[current], b)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ledgersync: scan snapshot: %w", err)
	}

	for addr, blocks := range accounts {
		if err := store.overwriteChain(addr, blocks); err != nil {
			syncLog.WithError(err).WithField("address", addr).Error("failed to persist synced chain")
		}
	}
	return nil
}
