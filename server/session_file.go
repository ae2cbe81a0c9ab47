package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/spf13/afero"
)

// listBatch is how many directory entries are read from the file system at
// a time while a listing streams.
const listBatch = 64

func handlePWD(ctx *CommandContext) error {
	cwd := GetFeature[FileSystemFeature](ctx.Features()).WorkingDir()
	return ctx.Reply(257, fmt.Sprintf("%q is the current directory.", cwd))
}

func handleCWD(ctx *CommandContext) error {
	return changeDir(ctx, ctx.Command().Argument)
}

func handleCDUP(ctx *CommandContext) error {
	return changeDir(ctx, "..")
}

// userFs returns the file system view of the logged in user.
func userFs(ctx *CommandContext) (FileSystemFeature, afero.Fs, error) {
	fsf := GetFeature[FileSystemFeature](ctx.Features())
	fs := fsf.Fs()
	if fs == nil {
		return nil, nil, Reply(530, "Not logged in.")
	}
	return fsf, fs, nil
}

func changeDir(ctx *CommandContext, arg string) error {
	fsf, fs, err := userFs(ctx)
	if err != nil {
		return err
	}

	dir := fsf.Resolve(arg)
	ok, err := afero.IsDir(fs, dir)
	if err != nil {
		return fsError(err)
	}
	if !ok {
		return Reply(550, "Not a directory.")
	}
	fsf.SetWorkingDir(dir)
	return ctx.Reply(250, "Directory successfully changed.")
}

// fsError turns a file system error into the matching reply.
func fsError(err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &ReplyError{Code: 550, Message: "File not found.", Err: err}
	case errors.Is(err, os.ErrPermission):
		return &ReplyError{Code: 550, Message: "Permission denied.", Err: err}
	case errors.Is(err, os.ErrExist):
		return &ReplyError{Code: 550, Message: "File already exists.", Err: err}
	}
	return &ReplyError{Code: 550, Message: "Action failed.", Err: err}
}

// DirectoryListing streams the entries of a directory as Unix style listing
// lines. The directory is opened when iteration starts and closed when it
// ends, including when the consumer stops early.
type DirectoryListing struct {
	Fs   afero.Fs
	Path string
}

// DataLines implements DataLineProducer.
func (d *DirectoryListing) DataLines(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		f, err := d.Fs.Open(d.Path)
		if err != nil {
			yield("", err)
			return
		}
		defer f.Close()

		for {
			if ctx.Err() != nil {
				yield("", context.Cause(ctx))
				return
			}
			infos, err := f.Readdir(listBatch)
			for _, fi := range infos {
				if !yield(formatListLine(fi), nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) || (err == nil && len(infos) == 0) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}

// formatListLine renders fi the way LIST does.
// Note: This is a simplified format compatible with most clients.
func formatListLine(fi os.FileInfo) string {
	return fmt.Sprintf("%s 1 owner group %d %s %s",
		fi.Mode().String(), fi.Size(), fi.ModTime().Format("Jan 02 15:04"), fi.Name())
}
