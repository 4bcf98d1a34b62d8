package user

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndDuplicate(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("alice@example.com", "pw"))
	assert.ErrorIs(t, s.Add("alice@example.com", "other"), ErrExists)
	assert.Equal(t, 1, s.Len())
}

func TestAddFormatValidation(t *testing.T) {
	s := New()
	// rejected in order: empty email, a space (breaks the
	// space-separated reply format), a colon (the users file
	// separator), a newline, an overlong email, an empty password, a
	// newline in the password, an overlong password
	cases := []struct{ email, psw string }{
		{"", "pw"},
		{"a b@example.com", "pw"},
		{"a:b@example.com", "pw"},
		{"bad\nmail@example.com", "pw"},
		{strings.Repeat("e", 64), "pw"},
		{"ok@example.com", ""},
		{"ok@example.com", "p\nw"},
		{"ok@example.com", strings.Repeat("p", 64)},
	}
	for _, c := range cases {
		assert.ErrorIs(t, s.Add(c.email, c.psw), ErrBadFormat, "email=%q psw=%q", c.email, c.psw)
	}
	assert.NoError(t, s.Add(strings.Repeat("e", 63), strings.Repeat("p", 63)))
}

func TestAcquireChecksInOrder(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("alice@example.com", "pw"))

	_, err := s.Acquire("nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrNoSuchEmail)

	_, err = s.Acquire("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)

	uid, err := s.Acquire("alice@example.com", "pw")
	require.NoError(t, err)

	// busy wins over a correct password, and over a wrong one the
	// password check still runs first
	_, err = s.Acquire("alice@example.com", "pw")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = s.Acquire("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)

	s.Release(uid)
	uid2, err := s.Acquire("alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, uid, uid2)
}

func TestAcquireExclusiveUnderContention(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("alice@example.com", "pw"))

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if uid, err := s.Acquire("alice@example.com", "pw"); err == nil {
				wins <- uid
			}
		}()
	}
	wg.Wait()
	close(wins)
	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent login may win")
}

// Registrations grow the account vector while logins are in flight;
// run with -race to verify Acquire never touches the slice unlocked.
func TestAcquireDuringConcurrentRegistration(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("alice@example.com", "pw"))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if uid, err := s.Acquire("alice@example.com", "pw"); err == nil {
					s.Release(uid)
				}
			}
		}()
	}
	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, s.Add(fmt.Sprintf("u%d@example.com", i), "pw"))
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, n+1, s.Len())

	uid, err := s.Acquire("alice@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, 0, uid)
}

func TestSessionGatesIntrospection(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("alice@example.com", "pw"))

	_, err := s.EmailOf(0)
	assert.ErrorIs(t, err, ErrNotAcquired)
	_, err = s.FollowingOf(0)
	assert.ErrorIs(t, err, ErrNotAcquired)
	_, err = s.FollowersOf(0)
	assert.ErrorIs(t, err, ErrNotAcquired)

	uid, err := s.Acquire("alice@example.com", "pw")
	require.NoError(t, err)
	email, err := s.EmailOf(uid)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)
}

func TestFollowGraphSymmetry(t *testing.T) {
	s := New()
	for _, e := range []string{"a@x", "b@x", "c@x"} {
		require.NoError(t, s.Add(e, "pw"))
	}
	a, err := s.Acquire("a@x", "pw")
	require.NoError(t, err)
	b, err := s.Acquire("b@x", "pw")
	require.NoError(t, err)

	require.NoError(t, s.Follow(a, "b@x"))
	require.NoError(t, s.Follow(a, "c@x"))
	require.NoError(t, s.Follow(b, "c@x"))

	following, err := s.FollowingOf(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"b@x", "c@x"}, following)

	followers, err := s.FollowersOf(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x"}, followers)

	assert.ErrorIs(t, s.Follow(a, "b@x"), ErrAlreadyFollowing)
	assert.ErrorIs(t, s.Follow(a, "a@x"), ErrSelfFollow)
	assert.ErrorIs(t, s.Follow(a, "nobody@x"), ErrNoSuchEmail)

	require.NoError(t, s.Unfollow(a, "b@x"))
	assert.ErrorIs(t, s.Unfollow(a, "b@x"), ErrNotFollowing)
	followers, err = s.FollowersOf(b)
	require.NoError(t, err)
	assert.Empty(t, followers)
}

func TestFollowSymmetryUnderInterleaving(t *testing.T) {
	s := New()
	emails := []string{"u0@x", "u1@x", "u2@x", "u3@x"}
	uids := make([]int, len(emails))
	for i, e := range emails {
		require.NoError(t, s.Add(e, "pw"))
		uid, err := s.Acquire(e, "pw")
		require.NoError(t, err)
		uids[i] = uid
	}

	var wg sync.WaitGroup
	for i := range uids {
		wg.Add(1)
		go func(me int) {
			defer wg.Done()
			for round := 0; round < 50; round++ {
				for j, target := range emails {
					if j == me {
						continue
					}
					_ = s.Follow(uids[me], target)
					if round%2 == 1 {
						_ = s.Unfollow(uids[me], target)
					}
				}
			}
		}(i)
	}
	wg.Wait()

	// v in u.following <=> u in v.followers
	for i := range uids {
		following, err := s.FollowingOf(uids[i])
		require.NoError(t, err)
		for _, target := range following {
			j := indexOf(emails, target)
			followers, err := s.FollowersOf(uids[j])
			require.NoError(t, err)
			assert.Contains(t, followers, emails[i])
		}
	}
}

func indexOf(ss []string, s string) int {
	for i := range ss {
		if ss[i] == s {
			return i
		}
	}
	return -1
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Add("alice@example.com", "pw"))
	require.NoError(t, s.Add("bob@example.com", "pw2"))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 2, s2.Len())
	uid, err := s2.Acquire("alice@example.com", "pw")
	require.NoError(t, err)
	s2.Release(uid)
	_, err = s2.Acquire("bob@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)
}

func TestLoadSkipsDuplicateLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Add("alice@example.com", "pw"))
	require.NoError(t, s.Close())

	// simulate a crash that replayed the append
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, data...), 0600))

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, 1, s2.Len())
	assert.ErrorIs(t, s2.Add("alice@example.com", "pw"), ErrExists)
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a users line\n"), 0600))
	_, err := Open(path)
	assert.Error(t, err)
}
