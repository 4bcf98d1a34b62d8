package robin

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/robinmsg/robin/cip"
	"github.com/robinmsg/robin/user"
)

const (
	// CommandMaxLength is the maximum decoded length of a command frame
	CommandMaxLength = 300
	// Number of allowed oversized commands before we terminate the connection
	MaxOversizedCommands = 5
)

// command describes one wire-visible command. argc is the exact number
// of arguments required, or -1 for "at least one".
type command struct {
	name string
	desc string
	argc int
	auth bool
	fn   func(s *server, c *client, args []string) error
}

// commands is ordered; help prints it in this order. Populated in an
// init func since cmdHelp itself walks the table and a composite
// literal would make the initializer cyclic.
var commands []command

func init() {
	commands = []command{
		{"help", "print this help", 0, false, (*server).cmdHelp},
		{"register", "register to Robin with e-mail and password", 2, false, (*server).cmdRegister},
		{"login", "login to Robin with e-mail and password", 2, false, (*server).cmdLogin},
		{"logout", "logout from Robin", 0, true, (*server).cmdLogout},
		{"follow", "follow the users with the given e-mails", -1, true, (*server).cmdFollow},
		{"unfollow", "unfollow the users with the given e-mails", -1, true, (*server).cmdUnfollow},
		{"following", "list the users you are following", 0, true, (*server).cmdFollowing},
		{"followers", "list the users that follow you", 0, true, (*server).cmdFollowers},
		{"cip", "send a cip to your followers", 1, true, (*server).cmdCip},
		{"cips_since", "list the cips of followed users since the given timestamp", 1, true, (*server).cmdCipsSince},
		{"hashtags_since", "list the hashtags used since the given timestamp", 1, true, (*server).cmdHashtagsSince},
		{"quit", "terminate the connection with the server", 0, false, (*server).cmdQuit},
	}
}

// dispatchCommand parses one decoded command line and runs it,
// handling unknown commands, arity and the login gate. Blank lines are
// ignored. The returned error is an I/O error on the reply path; the
// connection loop drops the connection on it.
func (s *server) dispatchCommand(c *client, line string) error {
	args := parseArgs(line)
	if len(args) == 0 {
		// blank command, nothing to do
		return nil
	}
	for i := range commands {
		cmd := &commands[i]
		if cmd.name != args[0] {
			continue
		}
		nargs := len(args) - 1
		if cmd.argc >= 0 && nargs != cmd.argc || cmd.argc < 0 && nargs < 1 {
			return c.sendReply("-1 invalid number of arguments")
		}
		if cmd.auth && c.uid == noUser {
			return c.sendReply("-2 login is required before " + cmd.name)
		}
		s.metrics.CommandProcessed(cmd.name)
		return cmd.fn(s, c, args[1:])
	}
	return c.sendReply("-1 invalid command; type help for " +
		"the list of availble commands")
}

func (s *server) cmdHelp(c *client, args []string) error {
	lines := make([]string, len(commands))
	for i, cmd := range commands {
		lines[i] = cmd.name + "\t" + cmd.desc
	}
	return c.sendReply(fmt.Sprintf("%d available commands:", len(commands)), lines...)
}

func (s *server) cmdRegister(c *client, args []string) error {
	email, psw := args[0], args[1]
	err := s.users.Add(email, psw)
	switch {
	case err == nil:
		return c.sendReply("0 user registered successfully")
	case errors.Is(err, user.ErrBadFormat):
		return c.sendReply("-2 invalid email/password format")
	case errors.Is(err, user.ErrExists):
		return c.sendReply(fmt.Sprintf("-3 user %s is already registered", email))
	default:
		s.log().WithError(err).Error("register failed")
		return c.sendReply("-1 could not register the new user into the system")
	}
}

func (s *server) cmdLogin(c *client, args []string) error {
	if c.uid != noUser {
		return c.sendReply(fmt.Sprintf("-2 already signed-in as %s", c.email))
	}
	email, psw := args[0], args[1]
	uid, err := s.users.Acquire(email, psw)
	switch {
	case err == nil:
		c.uid = uid
		c.email = email
		s.metrics.AuthAttempt(true)
		return c.sendReply("0 user logged-in successfully")
	case errors.Is(err, user.ErrNoSuchEmail):
		s.metrics.AuthAttempt(false)
		return c.sendReply("-4 invalid email")
	case errors.Is(err, user.ErrBadPassword):
		s.metrics.AuthAttempt(false)
		return c.sendReply("-5 invalid password")
	case errors.Is(err, user.ErrBusy):
		s.metrics.AuthAttempt(false)
		return c.sendReply("-3 user already logged in from another client")
	default:
		s.log().WithError(err).Error("login failed")
		return c.sendReply("-1 could not login into the system")
	}
}

func (s *server) cmdLogout(c *client, args []string) error {
	s.users.Release(c.uid)
	c.uid = noUser
	c.email = ""
	return c.sendReply("0 logout successfull")
}

func (s *server) cmdFollow(c *client, args []string) error {
	lines := make([]string, 0, len(args))
	followed := 0
	for _, email := range args {
		err := s.users.Follow(c.uid, email)
		switch {
		case err == nil:
			lines = append(lines, email+" 0 user followed successfully")
			followed++
		case errors.Is(err, user.ErrSelfFollow):
			lines = append(lines, email+" 1 you can not follow yourself")
		case errors.Is(err, user.ErrNoSuchEmail):
			lines = append(lines, email+" 1 user does not exist")
		case errors.Is(err, user.ErrAlreadyFollowing):
			lines = append(lines, email+" 2 user already followed")
		default:
			s.log().WithError(err).Error("follow failed")
			lines = append(lines, email+" 1 "+err.Error())
		}
	}
	if followed == 0 {
		return c.sendReply("-1 could not follow any user")
	}
	return c.sendReply(strconv.Itoa(len(lines)), lines...)
}

func (s *server) cmdUnfollow(c *client, args []string) error {
	lines := make([]string, 0, len(args))
	unfollowed := 0
	for _, email := range args {
		err := s.users.Unfollow(c.uid, email)
		switch {
		case err == nil:
			lines = append(lines, email+" 0 user unfollowed successfully")
			unfollowed++
		case errors.Is(err, user.ErrNoSuchEmail):
			lines = append(lines, email+" 1 user does not exist")
		case errors.Is(err, user.ErrNotFollowing):
			lines = append(lines, email+" 2 user not followed")
		default:
			s.log().WithError(err).Error("unfollow failed")
			lines = append(lines, email+" 1 "+err.Error())
		}
	}
	if unfollowed == 0 {
		return c.sendReply("-1 could not unfollow any user")
	}
	return c.sendReply(strconv.Itoa(len(lines)), lines...)
}

func (s *server) cmdFollowing(c *client, args []string) error {
	emails, err := s.users.FollowingOf(c.uid)
	if err != nil {
		s.log().WithError(err).Error("following failed")
		return c.sendReply("-1 unknown error")
	}
	return c.sendReply(strconv.Itoa(len(emails)), emails...)
}

func (s *server) cmdFollowers(c *client, args []string) error {
	emails, err := s.users.FollowersOf(c.uid)
	if err != nil {
		s.log().WithError(err).Error("followers failed")
		return c.sendReply("-1 unknown error")
	}
	return c.sendReply(strconv.Itoa(len(emails)), emails...)
}

func (s *server) cmdCip(c *client, args []string) error {
	text := args[0]
	if len(text) > cip.MaxTextLen {
		return c.sendReply(fmt.Sprintf("-1 cip message exceeds %d characters", cip.MaxTextLen))
	}
	published := s.cips.Append(c.email, text)
	s.metrics.CipPublished(len(text))
	// the archive pipeline never fails a publish; a backend problem
	// only gets logged
	if res := s.backend().Process(published); res.Code() < 0 {
		s.log().Warn("archive backend: ", res.String())
	}
	return c.sendReply("0 cip published successfully")
}

func (s *server) cmdCipsSince(c *client, args []string) error {
	since, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.sendReply("-1 invalid timestamp")
	}
	following, err := s.users.FollowingOf(c.uid)
	if err != nil {
		s.log().WithError(err).Error("cips_since failed")
		return c.sendReply("-1 unknown error")
	}
	authors := make(map[string]bool, len(following))
	for _, email := range following {
		authors[email] = true
	}
	window := s.cips.Since(since, authors)
	lines := make([]string, len(window))
	for i, cp := range window {
		lines[i] = fmt.Sprintf("%d %s \"%s\"", cp.TS, cp.Author, cp.Text)
	}
	return c.sendReply(strconv.Itoa(len(lines)), lines...)
}

func (s *server) cmdHashtagsSince(c *client, args []string) error {
	since, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.sendReply("-1 invalid timestamp")
	}
	tags := s.cips.HashtagsSince(since)
	lines := make([]string, len(tags))
	for i, tc := range tags {
		lines[i] = fmt.Sprintf("%s %d", tc.Tag, tc.Count)
	}
	return c.sendReply(strconv.Itoa(len(lines)), lines...)
}

func (s *server) cmdQuit(c *client, args []string) error {
	err := c.sendReply("0 bye bye!")
	c.kill()
	return err
}
