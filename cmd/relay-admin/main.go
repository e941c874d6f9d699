// ABOUTME: Operator CLI for coven-relay workspace management
// ABOUTME: Talks to the relay's HTTP API to list, connect, and disconnect workspaces

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
           _                           _           _
  _ __ ___| | __ _ _   _        __ _  __| |_ __ ___ (_)_ __
 | '__/ _ \ |/ _' | | | |_____ / _' |/ _' | '_ ' _ \| | '_ \
 | | |  __/ | (_| | |_| |_____| (_| | (_| | | | | | | | | | |
 |_|  \___|_|\__,_|\__, |      \__,_|\__,_|_| |_| |_|_|_| |_|
                   |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("COVEN_RELAY_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(baseURL)
	case "workspaces", "ls":
		err = cmdWorkspaces(baseURL)
	case "connect":
		err = cmdConnect(baseURL, args)
	case "disconnect":
		err = cmdDisconnect(baseURL, args)
	case "connections":
		err = cmdConnections(baseURL, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: relay-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                        Check relay health")
	fmt.Println("  workspaces                    List live workspaces")
	fmt.Println("  connect <dir> [mode]          Connect a workspace (default mode: spawn)")
	fmt.Println("  disconnect <id>               Disconnect a workspace")
	fmt.Println("  connections <id>              List a workspace's realtime subscribers")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COVEN_RELAY_URL               Relay base URL (default: http://localhost:8080)")
	fmt.Println()
}

// apiWorkspace mirrors the relay's workspace API responses.
type apiWorkspace struct {
	ID           string          `json:"id"`
	Token        string          `json:"token"`
	Directory    string          `json:"directory"`
	Mode         string          `json:"mode"`
	CreatedAt    time.Time       `json:"createdAt"`
	Capabilities map[string]bool `json:"capabilities"`
	Connections  []apiConnection `json:"connections"`
}

type apiConnection struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// getJSON fetches a relay API endpoint into out.
func getJSON(baseURL, path string, out any) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError turns a non-200 relay response into an error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s (status %d)", e.Error, resp.StatusCode)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func cmdStatus(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return fmt.Errorf("relay unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	green := color.New(color.FgGreen)
	green.Print("● ")
	fmt.Printf("relay healthy at %s\n", baseURL)
	return nil
}

func cmdWorkspaces(baseURL string) error {
	var workspaces []apiWorkspace
	if err := getJSON(baseURL, "/api/workspaces", &workspaces); err != nil {
		return err
	}

	if len(workspaces) == 0 {
		fmt.Println("No live workspaces.")
		return nil
	}

	fmt.Printf("\nWorkspaces (%d):\n\n", len(workspaces))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tDIRECTORY\tMODE\tSUBS\tCREATED")
	fmt.Fprintln(w, "  --\t---------\t----\t----\t-------")
	for _, ws := range workspaces {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n",
			truncate(ws.ID, 26),
			truncate(ws.Directory, 40),
			ws.Mode,
			len(ws.Connections),
			ws.CreatedAt.Local().Format("Jan 02 15:04"),
		)
	}
	w.Flush()
	fmt.Println()

	return nil
}

func cmdConnect(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin connect <dir> [mode]")
	}
	mode := "spawn"
	if len(args) > 1 {
		mode = args[1]
	}

	body, err := json.Marshal(map[string]string{"directory": args[0], "mode": mode})
	if err != nil {
		return err
	}
	resp, err := http.Post(baseURL+"/api/workspaces", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var ws apiWorkspace
	if err := json.NewDecoder(resp.Body).Decode(&ws); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Println("✓ Workspace connected")
	fmt.Printf("  ID:        %s\n", ws.ID)
	fmt.Printf("  Directory: %s\n", ws.Directory)
	fmt.Printf("  Mode:      %s\n", ws.Mode)
	fmt.Println()
	color.Yellow("  Token (shown once, used by clients on /ws):")
	fmt.Printf("  %s\n", ws.Token)
	return nil
}

func cmdDisconnect(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin disconnect <id>")
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/workspaces/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Workspace %s disconnected\n", args[0])
	return nil
}

func cmdConnections(baseURL string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: relay-admin connections <id>")
	}

	var conns []apiConnection
	if err := getJSON(baseURL, "/api/workspaces/"+args[0]+"/connections", &conns); err != nil {
		return err
	}

	if len(conns) == 0 {
		fmt.Println("No active subscribers.")
		return nil
	}

	fmt.Printf("\nConnections (%d):\n\n", len(conns))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  LABEL\tID\tSINCE")
	fmt.Fprintln(w, "  -----\t--\t-----")
	for _, c := range conns {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", c.Label, truncate(c.ID, 26), c.CreatedAt.Local().Format("Jan 02 15:04:05"))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
