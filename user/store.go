// Package user implements the shared account store: registration,
// authentication, exclusive session acquisition, the follow/follower
// graph, and persistence to a flat append-only users file.
//
// Accounts live in an append-only vector; a uid is the account's index
// in that vector and is stable for the process lifetime. Accounts are
// never deleted.
package user

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robinmsg/robin/password"
)

const (
	// MaxEmailLen is the longest accepted email, in bytes.
	MaxEmailLen = 63
	// MaxPasswordLen is the longest accepted raw password, in bytes.
	MaxPasswordLen = 63
)

var (
	ErrBadFormat        = errors.New("user: invalid email/password format")
	ErrExists           = errors.New("user: already registered")
	ErrNoSuchEmail      = errors.New("user: no such email")
	ErrBadPassword      = errors.New("user: invalid password")
	ErrBusy             = errors.New("user: already logged in from another client")
	ErrNotAcquired      = errors.New("user: uid not acquired")
	ErrSelfFollow       = errors.New("user: cannot follow self")
	ErrAlreadyFollowing = errors.New("user: already following")
	ErrNotFollowing     = errors.New("user: not following")
)

type account struct {
	email string
	hash  string

	// session slot; at most one live connection holds the account
	acquired atomic.Bool

	// uids this account follows. Mutated only with the store mutex
	// held, read by the owning acquirer.
	following map[int]struct{}

	// uids following this account. The inverse edge may be written by
	// whichever acquirer runs Follow/Unfollow against us, so it gets
	// its own guard.
	followersMu sync.Mutex
	followers   map[int]struct{}
}

// Store is the process-wide account service. All methods are safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	accounts []*account
	index    map[string]int

	// append handle to the users file; nil when the store is
	// in-memory only
	f *os.File
}

// New returns an empty in-memory store with no backing file.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Open loads the users file at path, creating it if absent, and keeps
// it open for appending. Lines have the form email:hash; duplicate
// emails are ignored (a crash mid-append leaves at most one stale
// duplicate, which maps to "already registered" here).
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("user: opening %s: %w", path, err)
	}
	s := New()
	s.f = f
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		email, hash, ok := strings.Cut(text, ":")
		if !ok || email == "" || hash == "" {
			f.Close()
			return nil, fmt.Errorf("user: %s:%d: malformed line", path, line)
		}
		if _, dup := s.index[email]; dup {
			continue
		}
		s.insert(email, hash)
	}
	if err := sc.Err(); err != nil {
		f.Close()
		return nil, fmt.Errorf("user: reading %s: %w", path, err)
	}
	return s, nil
}

// Close releases the backing file, if any. The in-memory state stays
// usable; Add simply stops persisting.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Len returns the number of registered accounts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts)
}

// insert appends a new account. Caller holds s.mu (or is still
// single-threaded during load).
func (s *Store) insert(email, hash string) int {
	uid := len(s.accounts)
	s.accounts = append(s.accounts, &account{
		email:     email,
		hash:      hash,
		following: make(map[int]struct{}),
		followers: make(map[int]struct{}),
	})
	s.index[email] = uid
	return uid
}

func validEmail(email string) bool {
	if len(email) == 0 || len(email) > MaxEmailLen {
		return false
	}
	for i := 0; i < len(email); i++ {
		c := email[i]
		// printable ASCII, no spaces (the reply format is
		// space-separated), no colon (the users file separator)
		if c <= ' ' || c > '~' || c == ':' {
			return false
		}
	}
	return true
}

func validPassword(psw string) bool {
	if len(psw) == 0 || len(psw) > MaxPasswordLen {
		return false
	}
	return !strings.ContainsAny(psw, "\r\n")
}

// Add registers a new account and appends it to the users file when
// one is configured. The file write happens before the in-memory
// insert so the file stays the system of record.
func (s *Store) Add(email, psw string) error {
	if !validEmail(email) || !validPassword(psw) {
		return ErrBadFormat
	}
	hash, err := password.Hash(psw, "")
	if err != nil {
		return fmt.Errorf("user: hashing password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.index[email]; dup {
		return ErrExists
	}
	if s.f != nil {
		if _, err := fmt.Fprintf(s.f, "%s:%s\n", email, hash); err != nil {
			return fmt.Errorf("user: appending to users file: %w", err)
		}
	}
	s.insert(email, hash)
	return nil
}

// Acquire authenticates email/psw and claims the account's session
// slot. Checks run in order: email existence, password match,
// acquisition — so a busy account is reported as busy, not as a bad
// password.
func (s *Store) Acquire(email, psw string) (int, error) {
	// grab the account pointer while holding the lock; a concurrent Add
	// may reallocate the accounts slice under us
	s.mu.Lock()
	uid, ok := s.index[email]
	var a *account
	if ok {
		a = s.accounts[uid]
	}
	s.mu.Unlock()
	if !ok {
		return -1, ErrNoSuchEmail
	}
	if !password.Verify(psw, a.hash) {
		return -1, ErrBadPassword
	}
	if !a.acquired.CompareAndSwap(false, true) {
		return -1, ErrBusy
	}
	return uid, nil
}

// Release frees the session slot for uid. Releasing an unacquired or
// out-of-range uid is a no-op.
func (s *Store) Release(uid int) {
	if a := s.account(uid); a != nil {
		a.acquired.Store(false)
	}
}

// account returns the account for uid, or nil when out of range.
// Accounts are append-only, so the indexed entry is immutable once
// observed; only the slice header needs the lock.
func (s *Store) account(uid int) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid < 0 || uid >= len(s.accounts) {
		return nil
	}
	return s.accounts[uid]
}

func (s *Store) acquiredAccount(uid int) (*account, error) {
	a := s.account(uid)
	if a == nil || !a.acquired.Load() {
		return nil, ErrNotAcquired
	}
	return a, nil
}

// EmailOf returns the email of an acquired uid.
func (s *Store) EmailOf(uid int) (string, error) {
	a, err := s.acquiredAccount(uid)
	if err != nil {
		return "", err
	}
	return a.email, nil
}

// FollowingOf snapshots the emails the acquired uid follows, sorted.
func (s *Store) FollowingOf(uid int) ([]string, error) {
	if _, err := s.acquiredAccount(uid); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[uid]
	out := make([]string, 0, len(a.following))
	for fid := range a.following {
		out = append(out, s.accounts[fid].email)
	}
	sort.Strings(out)
	return out, nil
}

// FollowersOf snapshots the emails following the acquired uid, sorted.
func (s *Store) FollowersOf(uid int) ([]string, error) {
	a, err := s.acquiredAccount(uid)
	if err != nil {
		return nil, err
	}
	a.followersMu.Lock()
	fids := make([]int, 0, len(a.followers))
	for fid := range a.followers {
		fids = append(fids, fid)
	}
	a.followersMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(fids))
	for _, fid := range fids {
		out = append(out, s.accounts[fid].email)
	}
	sort.Strings(out)
	return out, nil
}

// Follow adds the edge uid -> email. Both endpoints are updated in one
// critical section so the graph stays symmetric.
func (s *Store) Follow(uid int, email string) error {
	if _, err := s.acquiredAccount(uid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tid, ok := s.index[email]
	if !ok {
		return ErrNoSuchEmail
	}
	if tid == uid {
		return ErrSelfFollow
	}
	me := s.accounts[uid]
	if _, dup := me.following[tid]; dup {
		return ErrAlreadyFollowing
	}
	me.following[tid] = struct{}{}
	target := s.accounts[tid]
	target.followersMu.Lock()
	target.followers[uid] = struct{}{}
	target.followersMu.Unlock()
	return nil
}

// Unfollow removes the edge uid -> email.
func (s *Store) Unfollow(uid int, email string) error {
	if _, err := s.acquiredAccount(uid); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tid, ok := s.index[email]
	if !ok {
		return ErrNoSuchEmail
	}
	me := s.accounts[uid]
	if _, following := me.following[tid]; !following {
		return ErrNotFollowing
	}
	delete(me.following, tid)
	target := s.accounts[tid]
	target.followersMu.Lock()
	delete(target.followers, uid)
	target.followersMu.Unlock()
	return nil
}
