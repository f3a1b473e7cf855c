package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// remoteCmd drives a running server: consolidate a map, or fetch its archive.
func remoteCmd(args []string) {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	mapID := fs.String("map", "", "map id")
	op := fs.String("op", "consolidate", "consolidate or export")
	resync := fs.Bool("resync", false, "flag the new base so clients rebuild from it (consolidate)")
	out := fs.String("out", "", "archive output path (export)")
	_ = fs.Parse(args)

	if *mapID == "" {
		fmt.Fprintln(os.Stderr, "missing -map")
		os.Exit(2)
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/v1/maps/" + url.PathEscape(*mapID)
	var req *http.Request
	switch *op {
	case "consolidate":
		q := ""
		if *resync {
			q = "?resync=1"
		}
		req, _ = http.NewRequest(http.MethodPost, u+"/consolidate"+q, nil)
	case "export":
		req, _ = http.NewRequest(http.MethodGet, u+"/archive", nil)
	default:
		fmt.Fprintln(os.Stderr, "unknown -op", *op)
		os.Exit(2)
	}

	cl := &http.Client{Timeout: 60 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 || *op == "consolidate" {
		b, _ := io.ReadAll(resp.Body)
		fmt.Println(string(b))
		if resp.StatusCode/100 != 2 {
			os.Exit(1)
		}
		return
	}

	path := *out
	if path == "" {
		path = *mapID + ".json.zst"
	}
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create:", err)
		os.Exit(1)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bytes to %s\n", n, path)
}
