// Command ftpengine is a small command-line driver for the ftpengine
// client library: connect to a server with a URL and run one operation.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gonzalop/ftpengine"
)

func usage() {
	fmt.Fprintf(os.Stderr, `ftpengine - command-line FTP client

Usage:
  ftpengine [flags] <command> <url> [args...]

Commands:
  ls   <url>[/path]           list a directory
  get  <url>/file <localfile> download a file
  put  <localfile> <url>/file upload a file
  mkdir <url>/path            create a directory
  rm   <url>/file             delete a file
  rmdir <url>/path            remove a directory (non-recursive)

URL format: ftp://[user:pass@]host[:port][/path]
            ftps://...        (implicit TLS)
            ftp+explicit://...  (explicit TLS)

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, target := args[0], args[1]
	var err error
	switch cmd {
	case "ls":
		err = runLs(target)
	case "get":
		if len(args) < 3 {
			usage()
			os.Exit(2)
		}
		err = runGet(target, args[2])
	case "put":
		if len(args) < 3 {
			usage()
			os.Exit(2)
		}
		err = runPut(target, args[2])
	case "mkdir":
		err = runMkdir(target)
	case "rm":
		err = runRm(target)
	case "rmdir":
		err = runRmdir(target)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func runLs(rawURL string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()

	entries, err := c.List(remotePath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%-6s %12d %s\n", e.Type, e.Size, e.Name)
	}
	return nil
}

func runGet(rawURL, localFile string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()

	f, err := os.Create(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Retrieve(remotePath, f)
}

func runPut(localFile, rawURL string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()

	f, err := os.Open(localFile)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.Store(remotePath, f)
}

func runMkdir(rawURL string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()
	return c.MakeDir(remotePath)
}

func runRm(rawURL string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()
	return c.Delete(remotePath)
}

func runRmdir(rawURL string) error {
	c, remotePath, err := dialPath(rawURL)
	if err != nil {
		return err
	}
	defer c.Quit()
	return c.RemoveDir(remotePath)
}

// dialPath connects and logs in from a ftp://[user:pass@]host[/path] URL,
// returning the client and the path portion separately since Connect
// consumes the whole URL but List/Retrieve/Store etc. take a bare path.
func dialPath(rawURL string) (*ftp.Client, string, error) {
	u, remotePath, err := splitURLPath(rawURL)
	if err != nil {
		return nil, "", err
	}
	c, err := ftp.Connect(u)
	if err != nil {
		return nil, "", err
	}
	return c, remotePath, nil
}

func splitURLPath(rawURL string) (base, path string, err error) {
	scheme, rest, ok := cutScheme(rawURL)
	if !ok {
		return "", "", fmt.Errorf("invalid URL: %s", rawURL)
	}
	authority := rest
	remotePath := "/"
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			authority = rest[:i]
			remotePath = rest[i:]
			break
		}
	}
	return scheme + "://" + authority, remotePath, nil
}

func cutScheme(s string) (scheme, rest string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i+2 < len(s) && s[i+1] == '/' && s[i+2] == '/' {
				return s[:i], s[i+3:], true
			}
			return "", "", false
		}
	}
	return "", "", false
}
