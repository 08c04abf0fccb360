package frontend

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"mpm2emu/pkg/bridge"
)

// pathGrammar parses the 8.3 SFTP/HTTP path grammar
// `/{DRIVE}[.{USER}]/{NAME.EXT}` (§4.9).
type pathGrammar struct {
	Drive byte
	User  byte
	Name  string
	Ext   string
}

func parsePath(p string) (*pathGrammar, error) {
	p = strings.TrimPrefix(p, "/")
	parts := strings.SplitN(p, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("frontend: empty drive component in path %q", p)
	}

	driveUser := parts[0]
	drive := strings.ToUpper(driveUser)
	var user byte
	if idx := strings.IndexByte(driveUser, '.'); idx >= 0 {
		drive = strings.ToUpper(driveUser[:idx])
		u, err := strconv.Atoi(driveUser[idx+1:])
		if err != nil || u < 0 || u > 255 {
			return nil, fmt.Errorf("frontend: invalid user number in %q", driveUser)
		}
		user = byte(u)
	}
	if len(drive) != 1 || drive[0] < 'A' || drive[0] > 'P' {
		return nil, fmt.Errorf("frontend: invalid drive %q", drive)
	}

	g := &pathGrammar{Drive: drive[0], User: user}
	if len(parts) == 2 && parts[1] != "" {
		name := strings.ToUpper(parts[1])
		if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
			g.Name, g.Ext = name[:idx], name[idx+1:]
		} else {
			g.Name = name
		}
		if len(g.Name) > 8 || len(g.Ext) > 3 {
			return nil, fmt.Errorf("frontend: filename %q does not fit the 8.3 grammar", parts[1])
		}
	}
	return g, nil
}

// SFTPHandlers builds sftp.Handlers backed by the file bridge, for use with
// github.com/pkg/sftp's sftp.NewRequestServer.
func SFTPHandlers(br *bridge.Bridge, timeout time.Duration) sftp.Handlers {
	h := &bridgeHandler{bridge: br, timeout: timeout}
	return sftp.Handlers{
		FileGet:  h,
		FilePut:  h,
		FileCmd:  h,
		FileList: h,
	}
}

type bridgeHandler struct {
	bridge  *bridge.Bridge
	timeout time.Duration
}

func (h *bridgeHandler) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// Fileread implements sftp.FileReader.
func (h *bridgeHandler) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	g, err := parsePath(r.Filepath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := h.ctx()
	defer cancel()
	_, reply, err := h.bridge.Submit(ctx, &bridge.Request{
		Type:  bridge.ReqRead,
		Drive: g.Drive - 'A',
		User:  g.User,
		Name:  bridge.NameFromPath(g.Name, g.Ext),
	})
	if err != nil {
		return nil, err
	}
	if reply.Status != 0 {
		return nil, os.ErrNotExist
	}
	return &byteReaderAt{data: reply.Data}, nil
}

// Filewrite implements sftp.FileWriter.
func (h *bridgeHandler) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	g, err := parsePath(r.Filepath)
	if err != nil {
		return nil, err
	}
	return &bridgeWriter{bridge: h.bridge, timeout: h.timeout, path: g}, nil
}

// Filecmd implements sftp.FileCmder (Remove, Rename, Mkdir, etc).
func (h *bridgeHandler) Filecmd(r *sftp.Request) error {
	g, err := parsePath(r.Filepath)
	if err != nil {
		return err
	}
	switch r.Method {
	case "Remove":
		ctx, cancel := h.ctx()
		defer cancel()
		_, reply, err := h.bridge.Submit(ctx, &bridge.Request{
			Type:  bridge.ReqDelete,
			Drive: g.Drive - 'A',
			User:  g.User,
			Name:  bridge.NameFromPath(g.Name, g.Ext),
		})
		if err != nil {
			return err
		}
		if reply.Status != 0 {
			return os.ErrNotExist
		}
		return nil
	default:
		return fmt.Errorf("frontend: unsupported SFTP command %s", r.Method)
	}
}

// Filelist implements sftp.FileLister (List, Stat, Readlink).
func (h *bridgeHandler) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	g, err := parsePath(r.Filepath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := h.ctx()
	defer cancel()
	_, reply, err := h.bridge.Submit(ctx, &bridge.Request{
		Type:  bridge.ReqList,
		Drive: g.Drive - 'A',
		User:  g.User,
	})
	if err != nil {
		return nil, err
	}
	names := strings.Split(strings.TrimRight(string(reply.Data), "\x00"), "\x00")
	var entries []os.FileInfo
	for _, n := range names {
		if n == "" {
			continue
		}
		if g.Name != "" {
			pattern := g.Name
			if g.Ext != "" {
				pattern += "." + g.Ext
			}
			ok, _ := doublestar.Match(pattern, n)
			if !ok {
				continue
			}
		}
		entries = append(entries, fakeFileInfo{name: n})
	}
	return listerAt(entries), nil
}

type byteReaderAt struct{ data []byte }

func (b *byteReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type bridgeWriter struct {
	bridge  *bridge.Bridge
	timeout time.Duration
	path    *pathGrammar
}

func (w *bridgeWriter) WriteAt(p []byte, off int64) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	_, reply, err := w.bridge.Submit(ctx, &bridge.Request{
		Type:   bridge.ReqWrite,
		Drive:  w.path.Drive - 'A',
		User:   w.path.User,
		Name:   bridge.NameFromPath(w.path.Name, w.path.Ext),
		Offset: uint32(off),
		Length: uint16(len(p)),
		Data:   p,
	})
	if err != nil {
		return 0, err
	}
	if reply.Status != 0 {
		return 0, fmt.Errorf("frontend: guest rejected write, status %d", reply.Status)
	}
	return len(p), nil
}

type fakeFileInfo struct{ name string }

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return 0o444 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return false }
func (f fakeFileInfo) Sys() interface{}   { return nil }

type listerAt []os.FileInfo

func (l listerAt) ListAt(out []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(l)) {
		return 0, io.EOF
	}
	n := copy(out, l[offset:])
	if n < len(out) {
		return n, io.EOF
	}
	return n, nil
}

var _ ssh.Channel // sftp subsystem is served over an ssh.Channel by the caller (see ServeSFTP)

// ServeSFTP serves an SFTP subsystem request over channel.
func ServeSFTP(channel ssh.Channel, br *bridge.Bridge, timeout time.Duration) error {
	server := sftp.NewRequestServer(channel, SFTPHandlers(br, timeout))
	defer server.Close()
	return server.Serve()
}
