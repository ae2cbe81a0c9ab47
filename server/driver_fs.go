package server

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"
)

// FSDriver implements Driver on top of an afero file system.
//
// Security Model:
//   - Each user is confined to a home directory with afero.NewBasePathFs
//   - Passwords are stored as bcrypt hashes
//   - Read-only users get an afero.NewReadOnlyFs view
//
// Default behavior (no options):
//   - Allows anonymous login ("ftp" or "anonymous" users only)
//   - Anonymous users have read-only access to the whole file system
type FSDriver struct {
	fs afero.Fs

	mu    sync.RWMutex
	users map[string]fsUser

	// disableAnonymous, if true, rejects the anonymous and ftp users.
	disableAnonymous bool

	// enableAnonWrite, if true, gives anonymous users a writable view.
	enableAnonWrite bool
}

type fsUser struct {
	hash     []byte
	home     string
	readOnly bool
	groups   []string
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver) error

// NewFSDriver creates a driver serving fs. The root of fs must be a directory.
//
// Basic usage:
//
//	driver, err := server.NewFSDriver(afero.NewBasePathFs(afero.NewOsFs(), "/srv/ftp"))
//
// With a password user chrooted to /home/alice:
//
//	hash, _ := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.DefaultCost)
//	driver, err := server.NewFSDriver(fs,
//	    server.WithUser("alice", hash, "/home/alice", false),
//	    server.WithDisableAnonymous(true),
//	)
func NewFSDriver(fs afero.Fs, options ...FSDriverOption) (*FSDriver, error) {
	if fs == nil {
		return nil, errors.New("file system is required")
	}
	ok, err := afero.IsDir(fs, "/")
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !ok {
		return nil, errors.New("root path is not a directory")
	}

	d := &FSDriver{
		fs:    fs,
		users: make(map[string]fsUser),
	}
	for _, opt := range options {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// WithUser adds a password user. hash is a bcrypt hash, home the directory
// the user is confined to ("" or "/" for the whole file system).
func WithUser(name string, hash []byte, home string, readOnly bool, groups ...string) FSDriverOption {
	return func(d *FSDriver) error {
		if _, err := bcrypt.Cost(hash); err != nil {
			return fmt.Errorf("user %q: invalid password hash: %w", name, err)
		}
		d.users[name] = fsUser{
			hash:     hash,
			home:     path.Clean("/" + home),
			readOnly: readOnly,
			groups:   groups,
		}
		return nil
	}
}

// WithDisableAnonymous disables anonymous login.
func WithDisableAnonymous(disable bool) FSDriverOption {
	return func(d *FSDriver) error {
		d.disableAnonymous = disable
		return nil
	}
}

// WithAnonWrite enables write access for anonymous users.
// Default is false (read-only).
func WithAnonWrite(enable bool) FSDriverOption {
	return func(d *FSDriver) error {
		d.enableAnonWrite = enable
		return nil
	}
}

// HashPassword returns the bcrypt hash of password, for use with WithUser.
func HashPassword(password string, cost int) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), cost)
}

func isAnonymous(user string) bool {
	return user == "anonymous" || user == "ftp"
}

// Authenticate checks the credentials and returns the user's view of the
// file system.
func (d *FSDriver) Authenticate(ctx context.Context, user, pass string) (*Principal, afero.Fs, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	d.mu.RLock()
	u, known := d.users[user]
	d.mu.RUnlock()

	if !known {
		if !isAnonymous(user) {
			return nil, nil, fmt.Errorf("unknown user %q: %w", user, ErrLoginIncorrect)
		}
		if d.disableAnonymous {
			return nil, nil, fmt.Errorf("anonymous login disabled: %w", ErrLoginIncorrect)
		}
		var fs afero.Fs = d.fs
		if !d.enableAnonWrite {
			fs = afero.NewReadOnlyFs(fs)
		}
		return &Principal{Name: user, Anonymous: true}, fs, nil
	}

	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(pass)); err != nil {
		return nil, nil, fmt.Errorf("user %q: %w", user, ErrLoginIncorrect)
	}

	fs := d.fs
	if u.home != "/" {
		ok, err := afero.DirExists(d.fs, u.home)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("home directory %s of %q does not exist", u.home, user)
		}
		fs = afero.NewBasePathFs(fs, u.home)
	}
	if u.readOnly {
		fs = afero.NewReadOnlyFs(fs)
	}

	return &Principal{
		Name:   user,
		Groups: u.groups,
		Claims: map[string]string{"home": u.home},
	}, fs, nil
}
