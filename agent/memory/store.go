// Package memory keeps the conversational history of a single session: a
// bounded window of recent turns and an archive of evicted turns searchable
// by lexical similarity.
package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
)

type Config struct {
	// WindowSize is the maximum number of turns kept verbatim.
	WindowSize int `split_words:"true" default:"6"`
	// TokenBudget bounds the estimated tokens of the window. Zero disables it.
	TokenBudget int `split_words:"true" default:"2000"`
}

var ErrInvalidState = errors.New("invalid memory state")

// State is the serialisable form of a Store.
type State struct {
	NextTurnID uint64           `json:"next_turn_id"`
	Window     []contractx.Turn `json:"window"`
	Archive    []contractx.Turn `json:"archive,omitempty"`
}

type Store struct {
	mu sync.RWMutex

	cfg Config

	issued       uint64
	lastAppended uint64

	window  []contractx.Turn
	archive []contractx.Turn
	index   *index
}

var _ contractx.Memory = (*Store)(nil)

func NewStore(cfg Config) *Store {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 6
	}
	if cfg.TokenBudget < 0 {
		cfg.TokenBudget = 0
	}
	return &Store{cfg: cfg, index: newIndex()}
}

// NextID reserves an id for a turn in progress. Reserved ids are never
// reused even if the turn is abandoned.
func (s *Store) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Append stores a completed turn and returns it as stored. A turn whose id
// does not follow the last appended one gets a fresh id.
func (s *Store) Append(turn contractx.Turn) contractx.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn = turn.Clone()
	if turn.ID == 0 || turn.ID <= s.lastAppended {
		s.issued++
		turn.ID = s.issued
	}
	if turn.ID > s.issued {
		s.issued = turn.ID
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.lastAppended = turn.ID

	s.window = append(s.window, turn)
	s.evict()

	return turn.Clone()
}

func (s *Store) evict() {
	for len(s.window) > 1 && (len(s.window) > s.cfg.WindowSize || s.overBudget()) {
		oldest := s.window[0]
		s.window = append(s.window[:0:0], s.window[1:]...)
		s.archive = append(s.archive, oldest)
		s.index.add(searchText(oldest))
	}
}

func (s *Store) overBudget() bool {
	if s.cfg.TokenBudget == 0 {
		return false
	}
	total := 0
	for _, t := range s.window {
		total += EstimateTokens(t)
	}
	return total > s.cfg.TokenBudget
}

func (s *Store) RecentWindow() []contractx.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTurns(s.window)
}

func (s *Store) Archive() []contractx.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTurns(s.archive)
}

// Len counts every appended turn still held, window and archive together.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.window) + len(s.archive)
}

// Retrieve returns up to k archived turns most similar to query, best first.
// Equal scores favour the more recent turn; turns sharing no terms are left out.
func (s *Store) Retrieve(query string, k int) []contractx.ScoredTurn {
	if k <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := s.index.search(query, k, func(a, b int) bool {
		return s.archive[a].ID > s.archive[b].ID
	})
	if len(hits) == 0 {
		return nil
	}
	out := make([]contractx.ScoredTurn, len(hits))
	for i, h := range hits {
		out[i] = contractx.ScoredTurn{Turn: s.archive[h.doc].Clone(), Score: h.score}
	}
	return out
}

func (s *Store) Snapshot(query string, k int) contractx.MemorySnapshot {
	return contractx.MemorySnapshot{
		Recent:    s.RecentWindow(),
		Retrieved: s.Retrieve(query, k),
	}
}

// Reset forgets all turns. The id counter keeps counting so ids stay unique
// for the life of the session.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = nil
	s.archive = nil
	s.index = newIndex()
}

/* ----------------------------- persistence ----------------------------- */

func (s *Store) Export() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		NextTurnID: s.issued + 1,
		Window:     cloneTurns(s.window),
		Archive:    cloneTurns(s.archive),
	}
}

// Restore replaces the store contents with st. Turns are re-evicted under
// the current Config, so a smaller window after a restart is honoured.
func (s *Store) Restore(st State) error {
	var last uint64
	for _, list := range [][]contractx.Turn{st.Archive, st.Window} {
		for _, t := range list {
			if t.ID <= last {
				return fmt.Errorf("%w: turn ids not ascending at %d", ErrInvalidState, t.ID)
			}
			last = t.ID
		}
	}
	if st.NextTurnID != 0 && st.NextTurnID <= last {
		return fmt.Errorf("%w: next turn id %d not above last turn %d", ErrInvalidState, st.NextTurnID, last)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = cloneTurns(st.Window)
	s.archive = cloneTurns(st.Archive)
	s.index = newIndex()
	for _, t := range s.archive {
		s.index.add(searchText(t))
	}
	s.lastAppended = last
	s.issued = last
	if st.NextTurnID > 0 {
		s.issued = st.NextTurnID - 1
	}
	s.evict()
	return nil
}

// EstimateTokens approximates model tokens at four characters per token.
func EstimateTokens(t contractx.Turn) int {
	chars := utf8.RuneCountInString(t.Content) + utf8.RuneCountInString(t.Answer)
	for _, c := range t.Calls {
		chars += utf8.RuneCountInString(c.Tool)
	}
	for _, r := range t.Results {
		chars += utf8.RuneCountInString(r.Error)
		if out, ok := r.Output.(string); ok {
			chars += utf8.RuneCountInString(out)
		}
	}
	return (chars + 3) / 4
}

func searchText(t contractx.Turn) string {
	return t.Content + "\n" + t.Answer
}

func cloneTurns(in []contractx.Turn) []contractx.Turn {
	if len(in) == 0 {
		return []contractx.Turn{}
	}
	out := make([]contractx.Turn, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
