package frontend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mpm2emu/pkg/bridge"
)

// NewHTTPServer builds a read-only HTTP front end over the file bridge:
// `/`, `/{drive}`, `/{drive}/{filename}`. Routes are matched
// case-insensitively, since mux's default matching is case-sensitive and
// MP/M drive letters and 8.3 names are conventionally upper-cased (§4.9
// HTTP).
func NewHTTPServer(br *bridge.Bridge, addr string) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/", httpIndex(br))
	r.HandleFunc("/{drive}", httpDriveListing(br))
	r.HandleFunc("/{drive}/{filename}", httpFile(br))
	r.Use(lowercasePathMiddleware)

	return &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func lowercasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.Path = strings.ToLower(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func bridgeRequest(br *bridge.Bridge, req *bridge.Request) (*bridge.Reply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), bridge.DefaultTimeout)
	defer cancel()
	_, reply, err := br.Submit(ctx, req)
	return reply, err
}

func driveFromVar(drive string) (byte, error) {
	drive = strings.ToUpper(drive)
	if len(drive) != 1 || drive[0] < 'A' || drive[0] > 'P' {
		return 0, fmt.Errorf("frontend: invalid drive %q", drive)
	}
	return drive[0] - 'A', nil
}

// httpIndex lists the mounted drives A..P that respond to a listing
// request.
func httpIndex(br *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for d := byte(0); d < 16; d++ {
			reply, err := bridgeRequest(br, &bridge.Request{Type: bridge.ReqList, Drive: d})
			if err != nil || reply.Status != 0 {
				continue
			}
			fmt.Fprintf(w, "%c:\n", 'A'+d)
		}
	}
}

// httpDriveListing lists the files on one drive.
func httpDriveListing(br *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		drive, err := driveFromVar(mux.Vars(r)["drive"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		reply, err := bridgeRequest(br, &bridge.Request{Type: bridge.ReqList, Drive: drive})
		if err != nil {
			http.Error(w, "bridge timeout", http.StatusGatewayTimeout)
			return
		}
		if reply.Status != 0 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		names := strings.Split(strings.TrimRight(string(reply.Data), "\x00"), "\x00")
		for _, n := range names {
			if n != "" {
				fmt.Fprintln(w, n)
			}
		}
	}
}

// httpFile serves one file's contents, line endings converted to LF.
func httpFile(br *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		drive, err := driveFromVar(vars["drive"])
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		filename := strings.ToUpper(vars["filename"])
		name, ext := filename, ""
		if idx := strings.LastIndexByte(filename, '.'); idx >= 0 {
			name, ext = filename[:idx], filename[idx+1:]
		}

		reply, err := bridgeRequest(br, &bridge.Request{
			Type:  bridge.ReqRead,
			Drive: drive,
			Name:  bridge.NameFromPath(name, ext),
		})
		if err != nil {
			http.Error(w, "bridge timeout", http.StatusGatewayTimeout)
			return
		}
		if reply.Status != 0 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(stripCR(reply.Data))
	}
}

func stripCR(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b != '\r' {
			out = append(out, b)
		}
	}
	return out
}
