package server

import (
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// LoginFeature holds the user name sent by USER until PASS completes the login.
type LoginFeature interface {
	PendingUser() string
	SetPendingUser(name string)
}

// FileSystemFeature is the file system view of the logged in user together
// with the working directory. Paths are slash separated and rooted at "/".
type FileSystemFeature interface {
	// Fs returns the user's file system, nil before login.
	Fs() afero.Fs

	// SetFs replaces the file system and resets the working directory.
	SetFs(fs afero.Fs)

	// WorkingDir returns the current directory.
	WorkingDir() string

	// SetWorkingDir changes the current directory. The path must already be
	// resolved with Resolve.
	SetWorkingDir(dir string)

	// Resolve turns a command argument into an absolute clean path.
	Resolve(p string) string
}

// TransferTypeFeature stores the representation type selected with TYPE.
type TransferTypeFeature interface {
	TransferType() string
	SetTransferType(t string)
}

type loginState struct {
	mu   sync.Mutex
	user string
}

func (l *loginState) PendingUser() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.user
}

func (l *loginState) SetPendingUser(name string) {
	l.mu.Lock()
	l.user = name
	l.mu.Unlock()
}

type fileSystemState struct {
	mu  sync.RWMutex
	fs  afero.Fs
	cwd string
}

func (s *fileSystemState) Fs() afero.Fs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fs
}

func (s *fileSystemState) SetFs(fs afero.Fs) {
	s.mu.Lock()
	s.fs = fs
	s.cwd = "/"
	s.mu.Unlock()
}

func (s *fileSystemState) WorkingDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

func (s *fileSystemState) SetWorkingDir(dir string) {
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
}

func (s *fileSystemState) Resolve(p string) string {
	return resolvePath(s.WorkingDir(), p)
}

// resolvePath joins p to cwd unless p is absolute. The result never escapes "/".
func resolvePath(cwd, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return path.Clean("/" + cwd)
	}
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Clean("/" + path.Join(cwd, p))
}

type transferTypeState struct {
	mu sync.Mutex
	t  string
}

func (s *transferTypeState) TransferType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

func (s *transferTypeState) SetTransferType(t string) {
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
}

func init() {
	RegisterFeatureDefault(func(*Features) LoginFeature { return &loginState{} })
	RegisterFeatureDefault(func(*Features) FileSystemFeature { return &fileSystemState{cwd: "/"} })
	RegisterFeatureDefault(func(*Features) TransferTypeFeature { return &transferTypeState{t: "I"} })
}
