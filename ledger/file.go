package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"banking-ledger/account"
	"banking-ledger/logger"
)

const (
	entryAccount = "account"
	entryCommit  = "commit"
)

type journalEntry struct {
	Kind        string           `json:"kind"`
	Account     *account.Account `json:"account"`
	Version     int64            `json:"version"`
	Transaction *Transaction     `json:"transaction,omitempty"`
}

// ErrJournalBroken is returned for every change after a failed journal write
// could not be rolled back.
var ErrJournalBroken = errors.New("ledger journal is unusable")

// journalFile is the part of *os.File the journal uses.
type journalFile interface {
	io.Writer
	io.Seeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// FileStore is a MemoryStore backed by an append-only JSON-lines journal. Every
// change is written and fsync'ed before it is applied, and the journal is
// replayed on open.
type FileStore struct {
	*MemoryStore

	mu     sync.Mutex
	file   journalFile
	size   int64
	broken error
}

func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open journal: %w", err)
	}

	mem := NewMemoryStore()
	n, err := replay(f, mem)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("could not seek journal: %w", err)
	}

	fs := &FileStore{MemoryStore: mem, file: f, size: size}
	mem.journal = fs.write

	logger.Log.Info("ledger journal replayed", logger.String("path", path), logger.Int("entries", n))
	return fs, nil
}

// replay applies every complete entry. A torn final line, left by a crash in the
// middle of a write, is truncated away; damage anywhere else, including a commit
// that does not extend the replayed balance, is an error.
func replay(f *os.File, mem *MemoryStore) (int, error) {
	r := bufio.NewReader(f)
	var offset int64
	entries := 0

	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				logger.Log.Warn("truncating torn journal entry", logger.Int64("offset", offset))
				if err := f.Truncate(offset); err != nil {
					return entries, fmt.Errorf("could not truncate journal: %w", err)
				}
			}
			return entries, nil
		}
		if err != nil {
			return entries, fmt.Errorf("could not read journal: %w", err)
		}

		var e journalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return entries, fmt.Errorf("corrupt journal entry at offset %d: %w", offset, err)
		}
		if err := apply(mem, e); err != nil {
			return entries, fmt.Errorf("could not replay journal entry at offset %d: %w", offset, err)
		}

		offset += int64(len(line))
		entries++
	}
}

func apply(mem *MemoryStore, e journalEntry) error {
	if e.Account == nil {
		return errors.New("entry has no account")
	}
	e.Account.Version = e.Version

	switch e.Kind {
	case entryAccount:
		mem.applyAccount(e.Account)
	case entryCommit:
		if e.Transaction == nil {
			return errors.New("commit entry has no transaction")
		}
		cur, ok := mem.accounts[e.Account.ID]
		if !ok {
			return ErrNotFound
		}
		if err := checkCommit(cur, e.Version-1, e.Account, e.Transaction); err != nil {
			return fmt.Errorf("transaction %s: %w", e.Transaction.ID, err)
		}
		mem.applyCommit(e.Account, e.Transaction)
	default:
		return fmt.Errorf("unknown entry kind %q", e.Kind)
	}
	return nil
}

// write appends e and syncs it. When either step fails the journal is cut back
// to its previous length, so a change reported as failed is never replayed.
func (fs *FileStore) write(e journalEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.broken != nil {
		return fmt.Errorf("%w: %v", ErrJournalBroken, fs.broken)
	}

	n, err := fs.file.Write(b)
	if err == nil {
		err = fs.file.Sync()
	}
	if err != nil {
		if rerr := fs.rollback(); rerr != nil {
			fs.broken = rerr
			logger.Log.Error("could not roll back journal write, refusing further changes",
				logger.Int64("offset", fs.size),
				logger.Error(rerr))
			return fmt.Errorf("%w: %v", ErrJournalBroken, errors.Join(err, rerr))
		}
		return err
	}
	fs.size += int64(n)
	return nil
}

// rollback truncates the journal to the last acknowledged entry. Callers hold fs.mu.
func (fs *FileStore) rollback() error {
	if err := fs.file.Truncate(fs.size); err != nil {
		return fmt.Errorf("could not truncate journal: %w", err)
	}
	if _, err := fs.file.Seek(fs.size, io.SeekStart); err != nil {
		return fmt.Errorf("could not seek journal: %w", err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("could not sync journal: %w", err)
	}
	return nil
}

func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
