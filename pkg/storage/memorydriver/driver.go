package memorydriver

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// entry keeps the raw persisted representation of a single key.
type entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// snapshot is written to disk before each mutation is acknowledged so the driver survives restarts.
type snapshot struct {
	Entries []entry `json:"entries"`
}

// storeCommand models every operation executed against the in-memory table.
type storeCommand struct {
	action string
	key    string
	value  string
	reply  chan storeResult
}

// storeResult transfers either the looked up entries or an error.
type storeResult struct {
	entries  []entry
	affected int64
	err      error
}

// store keeps the key/value table guarded by a dedicated goroutine.
type store struct {
	commands     chan storeCommand
	closed       chan struct{}
	entries      []entry
	index        map[string]int
	snapshotPath string
}

// newStore creates a store and spins the goroutine so every access flows through a channel.
func newStore(path string) (*store, error) {
	loaded, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	s := &store{
		// A small buffer keeps bootstrap operations from blocking before the store goroutine spins up.
		commands:     make(chan storeCommand, 32),
		closed:       make(chan struct{}),
		snapshotPath: path,
	}
	var entries []entry
	if loaded != nil {
		entries = loaded.Entries
	}
	s.commit(entries)
	go s.loop()
	return s, nil
}

// loop serializes every mutation and read request to keep the table safe without mutexes.
// A mutation only replies after its snapshot is on disk; a failed write leaves the table unchanged.
func (s *store) loop() {
	for {
		select {
		case cmd := <-s.commands:
			switch cmd.action {
			case "put":
				next := cloneEntries(s.entries)
				e := entry{Key: cmd.key, Value: cmd.value, UpdatedAt: time.Now().UTC()}
				if i, ok := s.index[cmd.key]; ok {
					next[i] = e
				} else {
					next = append(next, e)
				}
				if err := s.persist(next); err != nil {
					cmd.reply <- storeResult{err: err}
					continue
				}
				s.commit(next)
				cmd.reply <- storeResult{affected: 1}
			case "get":
				i, ok := s.index[cmd.key]
				if !ok {
					cmd.reply <- storeResult{}
					continue
				}
				cmd.reply <- storeResult{entries: []entry{s.entries[i]}}
			case "delete":
				i, ok := s.index[cmd.key]
				if !ok {
					cmd.reply <- storeResult{}
					continue
				}
				next := make([]entry, 0, len(s.entries)-1)
				next = append(next, s.entries[:i]...)
				next = append(next, s.entries[i+1:]...)
				if err := s.persist(next); err != nil {
					cmd.reply <- storeResult{err: err}
					continue
				}
				s.commit(next)
				cmd.reply <- storeResult{affected: 1}
			case "flush":
				cmd.reply <- storeResult{err: s.persist(s.entries)}
			default:
				cmd.reply <- storeResult{err: fmt.Errorf("unsupported action %s", cmd.action)}
			}
		case <-s.closed:
			return
		}
	}
}

// commit swaps in a table that is already on disk and rebuilds the key lookup.
func (s *store) commit(entries []entry) {
	s.entries = entries
	s.index = make(map[string]int, len(entries))
	for i, e := range entries {
		s.index[e.Key] = i
	}
}

// persist writes entries to the snapshot file; without a path there is nothing to write.
func (s *store) persist(entries []entry) error {
	if s.snapshotPath == "" {
		return nil
	}
	if err := writeSnapshot(s.snapshotPath, snapshot{Entries: entries}); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// flush rewrites the snapshot through the loop so it never races a mutation; used on shutdown.
func (s *store) flush() error {
	if s.snapshotPath == "" {
		return nil
	}
	reply := make(chan storeResult, 1)
	select {
	case s.commands <- storeCommand{action: "flush", reply: reply}:
	case <-time.After(2 * time.Second):
		return errors.New("timed out while flushing snapshot")
	}
	return (<-reply).err
}

// close stops the goroutines; the server keeps them alive for the entire process lifetime.
func (s *store) close() {
	close(s.closed)
}

// Driver wires the store into the database/sql world.
type Driver struct {
	store *store
}

// Open creates a connection that forwards calls to the shared store.
func (d *Driver) Open(name string) (driver.Conn, error) {
	if d.store == nil {
		return nil, errors.New("memory driver store is not initialized")
	}
	return &conn{store: d.store}, nil
}

// conn represents a lightweight connection object; every operation still travels through channels.
type conn struct {
	store *store
}

// Prepare builds a statement object for the small set of supported queries.
func (c *conn) Prepare(query string) (driver.Stmt, error) {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	switch {
	case strings.HasPrefix(trimmed, "insert into kv"):
		return &stmt{store: c.store, query: "put"}, nil
	case strings.HasPrefix(trimmed, "select") && strings.Contains(trimmed, "from kv"):
		return &stmt{store: c.store, query: "get"}, nil
	case strings.HasPrefix(trimmed, "delete from kv"):
		return &stmt{store: c.store, query: "delete"}, nil
	case strings.HasPrefix(trimmed, "create table"), strings.HasPrefix(trimmed, "pragma"):
		return &stmt{store: c.store, query: "noop"}, nil
	default:
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
}

// Close is a no-op because the shared store owns the lifecycle.
func (c *conn) Close() error { return nil }

// Begin is not implemented because every statement is already atomic.
func (c *conn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions are not supported by the memory driver")
}

// stmt forwards Exec and Query to the store with the data shaped for each case.
type stmt struct {
	store *store
	query string
}

// Close is a no-op since statements do not maintain resources in this simple driver.
func (s *stmt) Close() error { return nil }

// NumInput matches the driver.Stmt contract; -1 allows database/sql to accept any argument count.
func (s *stmt) NumInput() int { return -1 }

// Exec handles the mutation statements supported by the driver.
func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	if s.query == "noop" {
		// Schema bootstrap statements do not touch the in-memory table.
		return execResult{}, nil
	}
	reply := make(chan storeResult)
	cmd := storeCommand{action: s.query, reply: reply}

	switch s.query {
	case "put":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected 2 arguments, got %d", len(args))
		}
		cmd.key = toString(args[0])
		cmd.value = toString(args[1])
	case "delete":
		if len(args) < 1 {
			return nil, errors.New("expected key for delete")
		}
		cmd.key = toString(args[0])
	default:
		return nil, fmt.Errorf("unsupported exec action %s", s.query)
	}

	if err := s.enqueue(cmd); err != nil {
		return nil, err
	}

	res := <-reply
	if res.err != nil {
		return nil, res.err
	}
	return execResult{affected: res.affected}, nil
}

// enqueue sends the command to the store while honoring a timeout to avoid blocking forever.
func (s *stmt) enqueue(cmd storeCommand) error {
	select {
	case s.store.commands <- cmd:
		return nil
	case <-time.After(2 * time.Second):
		return errors.New("timed out while enqueuing command")
	}
}

// Query looks up a single key and converts the match into driver.Rows.
func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	if s.query != "get" {
		return nil, errors.New("query only supports key lookups")
	}
	if len(args) < 1 {
		return nil, errors.New("expected key for lookup")
	}
	reply := make(chan storeResult)
	cmd := storeCommand{action: s.query, key: toString(args[0]), reply: reply}

	if err := s.enqueue(cmd); err != nil {
		return nil, err
	}

	res := <-reply
	if res.err != nil {
		return nil, res.err
	}
	return &rows{entries: res.entries}, nil
}

// execResult fulfills the driver.Result interface; keys are not auto-incremented.
type execResult struct {
	affected int64
}

func (r execResult) LastInsertId() (int64, error) { return 0, nil }
func (r execResult) RowsAffected() (int64, error) { return r.affected, nil }

// rows iterates through the matched entries.
type rows struct {
	entries []entry
	index   int
}

// Columns aligns with the SELECT projection used by storage.KV.
func (r *rows) Columns() []string {
	return []string{"value"}
}

// Close is a no-op for the lightweight row iterator.
func (r *rows) Close() error { return nil }

// Next moves through the entries and writes the column data into the provided slice.
func (r *rows) Next(dest []driver.Value) error {
	if r.index >= len(r.entries) {
		return io.EOF
	}
	dest[0] = r.entries[r.index].Value
	r.index++
	return nil
}

// toString converts driver.Value into a usable string.
func toString(value driver.Value) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

var registered atomic.Int64

// Register exposes a fresh driver instance backed by the snapshot at path and returns its name.
// An empty path keeps everything in memory.
func Register(path string) (string, func(), error) {
	store, err := newStore(path)
	if err != nil {
		return "", func() {}, err
	}
	driverName := fmt.Sprintf("cashfity-memory-%d", registered.Add(1))
	sql.Register(driverName, &Driver{store: store})
	cleanup := func() {
		_ = store.flush()
		store.close()
	}
	return driverName, cleanup, nil
}

// readSnapshot loads the persisted JSON file if it exists.
func readSnapshot(path string) (*snapshot, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// writeSnapshot persists the current state to disk.
func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, path)
}

// cloneEntries duplicates the slice so a failed write never touches the live table.
func cloneEntries(src []entry) []entry {
	out := make([]entry, len(src))
	copy(out, src)
	return out
}
