// controllerctl is a thin line client for operating the controller API
// from a shell: list instances, read state, start and stop them.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: controllerctl <command> [args]

commands:
  list                      list managed instance IDs
  state <instance-id>       show instance state (add -refresh to bypass the cache)
  start <instance-id>       start an instance (waits for running)
  stop <instance-id>        stop an instance (waits for stopped)
  reboot <instance-id>      reboot an instance
  uptime <instance-id>      show the current session duration
  costs [year month]        show the monthly cost estimate

environment:
  API_BASE   controller address (default http://localhost:8080)
  API_KEY    key sent as X-API-Key`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, key: os.Getenv("API_KEY")}

	var err error
	switch os.Args[1] {
	case "list":
		err = c.get("/api/resources")
	case "state":
		id := requireID()
		path := "/api/resources/" + id + "/state"
		if len(os.Args) > 3 && os.Args[3] == "-refresh" {
			path += "?refresh=1"
		}
		err = c.get(path)
	case "start":
		err = c.post("/api/resources/" + requireID() + "/start?wait=1")
	case "stop":
		err = c.post("/api/resources/" + requireID() + "/stop?wait=1")
	case "reboot":
		err = c.post("/api/resources/" + requireID() + "/reboot")
	case "uptime":
		err = c.get("/api/resources/" + requireID() + "/uptime/current")
	case "costs":
		path := "/api/costs/monthly"
		if len(os.Args) >= 4 {
			path += "?year=" + os.Args[2] + "&month=" + os.Args[3]
		}
		err = c.get(path)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func requireID() string {
	if len(os.Args) < 3 || !strings.HasPrefix(os.Args[2], "i-") {
		usage()
	}
	return os.Args[2]
}

type client struct {
	base string
	key  string
}

func (c *client) get(path string) error  { return c.do(http.MethodGet, path) }
func (c *client) post(path string) error { return c.do(http.MethodPost, path) }

func (c *client) do(method, path string) error {
	req, err := http.NewRequest(method, c.base+path, nil)
	if err != nil {
		return err
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}

	// Mutations with ?wait=1 block until the instance settles.
	hc := &http.Client{Timeout: 3 * time.Minute}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var pretty any
	if json.Unmarshal(body, &pretty) == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(string(body))
	return nil
}
