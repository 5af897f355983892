// Command trustctl is an admin CLI for the trustcore HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "trustcore")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "trustcore")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (set-token required)")
	}
	return tf.AccessToken, nil
}

// ---- http client ----

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, strings.TrimRight(c.base, "/")+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `trustctl
Usage:
  trustctl -addr http://HOST:PORT <cmd> [args]

Commands:
  version
  set-token    -t <jwt>                         (saves admin token)
  add-key      -file <pem> -format <rsa-sha256|ed25519>
  revoke-key   -id <key_id>
  list-keys
  status       -id <content_id>
  queue
  resolve      -id <flag_id> -action <approve|remove|edit> [-reason text]
  add-verifier -id <verifier_id> [-key-file <pem>] [-origin <class>]
  reassign     -id <content_id> -verifier <verifier_id>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the HTTP API.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	cli := &client{base: *addr, http: &http.Client{Timeout: 30 * time.Second}}

	switch cmd {

	case "version":
		fmt.Printf("trustctl %s (%s)\n", version, buildDate)

	case "set-token":
		fs := flag.NewFlagSet("set-token", flag.ExitOnError)
		t := fs.String("t", "", "admin JWT")
		_ = fs.Parse(flag.Args()[1:])
		if *t == "" {
			fmt.Fprintln(os.Stderr, "need -t")
			os.Exit(1)
		}
		var claims jwt.RegisteredClaims
		_, _ = jwt.ParseWithClaims(*t, &claims, func(*jwt.Token) (any, error) { return nil, nil },
			jwt.WithoutClaimsValidation(),
		)
		exp := time.Now().Add(time.Hour)
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		if err := saveToken(*t, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "add-key":
		fs := flag.NewFlagSet("add-key", flag.ExitOnError)
		file := fs.String("file", "", "public key PEM ('-'=stdin)")
		format := fs.String("format", "ed25519", "key format")
		_ = fs.Parse(flag.Args()[1:])
		if *file == "" {
			fmt.Fprintln(os.Stderr, "need -file")
			os.Exit(1)
		}
		pemBytes, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		cli.token = mustToken()

		var out map[string]string
		err = cli.do(http.MethodPost, "/api/v1/admin/keys",
			map[string]string{"public_key": string(pemBytes), "format": *format}, &out)
		if err != nil {
			fail(err)
		}
		fmt.Println(out["key_id"])

	case "revoke-key":
		fs := flag.NewFlagSet("revoke-key", flag.ExitOnError)
		id := fs.String("id", "", "key id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		cli.token = mustToken()
		if err := cli.do(http.MethodDelete, "/api/v1/admin/keys/"+*id, nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "list-keys":
		var out []map[string]any
		if err := cli.do(http.MethodGet, "/api/v1/keys", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		id := fs.String("id", "", "content id")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		var out map[string]any
		if err := cli.do(http.MethodGet, "/api/v1/submissions/"+*id, nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "queue":
		var out []map[string]any
		if err := cli.do(http.MethodGet, "/api/v1/moderation/queue", nil, &out); err != nil {
			fail(err)
		}
		printJSON(out)

	case "resolve":
		fs := flag.NewFlagSet("resolve", flag.ExitOnError)
		id := fs.String("id", "", "flag id (uuid)")
		action := fs.String("action", "", "approve|remove|edit")
		reason := fs.String("reason", "", "resolution reason")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" || *action == "" {
			fmt.Fprintln(os.Stderr, "need -id and -action")
			os.Exit(1)
		}
		cli.token = mustToken()

		var out map[string]any
		err := cli.do(http.MethodPost, "/api/v1/admin/flags/"+*id+"/resolve",
			map[string]string{"action": *action, "reason": *reason}, &out)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "add-verifier":
		fs := flag.NewFlagSet("add-verifier", flag.ExitOnError)
		id := fs.String("id", "", "verifier id")
		keyFile := fs.String("key-file", "", "Ed25519 public key PEM")
		origin := fs.String("origin", "", "origin class")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		body := map[string]string{"id": *id, "origin_class": *origin}
		if *keyFile != "" {
			pemBytes, err := readAll(*keyFile)
			if err != nil {
				fail(err)
			}
			body["public_key"] = string(pemBytes)
		}
		cli.token = mustToken()
		if err := cli.do(http.MethodPost, "/api/v1/admin/verifiers", body, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "reassign":
		fs := flag.NewFlagSet("reassign", flag.ExitOnError)
		id := fs.String("id", "", "content id")
		verifier := fs.String("verifier", "", "verifier id to replace")
		_ = fs.Parse(flag.Args()[1:])
		if *id == "" || *verifier == "" {
			fmt.Fprintln(os.Stderr, "need -id and -verifier")
			os.Exit(1)
		}
		cli.token = mustToken()

		var out map[string]string
		err := cli.do(http.MethodPost, "/api/v1/admin/submissions/"+*id+"/reassign",
			map[string]string{"verifier_id": *verifier}, &out)
		if err != nil {
			fail(err)
		}
		fmt.Println(out["verifier_id"])

	default:
		usage()
	}
}

// ---- helpers ----

func mustToken() string {
	tok, err := loadToken()
	if err != nil {
		fail(err)
	}
	return tok
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
