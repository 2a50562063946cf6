// ABOUTME: fabricctl talks to the admin/control API over HTTP with colorized terminal output.

package main

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"
)

const banner = `
  __      _              _      _    _
 / _|__ _| |__ _ _(_)___ /  \ __| |_ | |
|  _/ _' | '_ \ '_| / _ (  () / _|  _|| |
|_| \__,_|_.__/_| |_\___/\__/\__|\__||_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	addr := os.Getenv("FABRIC_ADDR")
	if addr == "" {
		addr = "http://localhost:8080"
	}
	token := os.Getenv("FABRIC_TOKEN")

	c := &client{baseURL: strings.TrimSuffix(addr, "/"), token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = cmdRegister(c, args)
	case "list":
		err = cmdList(c, args)
	case "find":
		err = cmdFind(c, args)
	case "send":
		err = cmdSend(c, args)
	case "wait":
		err = cmdWait(c, args)
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
	fmt.Println("Usage: fabricctl <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  register <agentId> <keyfile> <agentType> [capability...]  Register an agent")
	fmt.Println("  list [--capability=NAME] [--org=ID]                       List registered agents")
	fmt.Println("  find <query> [--limit=N] [--min-score=F]                  Semantic capability search")
	fmt.Println("  send <message.json>                                       Route a message, fire-and-forget")
	fmt.Println("  wait <message.json> [--timeout=5s]                        Send and stream the response")
	fmt.Println()
	fmt.Println("Environment: FABRIC_ADDR (default http://localhost:8080), FABRIC_TOKEN (bearer token)")
}

// client is a thin HTTP wrapper around the admin/control API.
type client struct {
	baseURL string
	token   string
	http    http.Client
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.http.Do(req)
}

func (c *client) decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s (status %d)", errBody.Error, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func cmdRegister(c *client, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: register <agentId> <keyfile> <agentType> [capability...]")
	}
	agentID, keyfile, agentType := args[0], args[1], args[2]
	capNames := args[3:]

	keyData, err := os.ReadFile(keyfile)
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return fmt.Errorf("parsing private key: %w", err)
	}

	pub := signer.PublicKey()
	pubBytes := pub.Marshal()
	did := didFromWireKey(pubBytes)

	sig, err := signer.Sign(rand.Reader, []byte(did))
	if err != nil {
		return fmt.Errorf("signing proof: %w", err)
	}
	// The server's identity.Verify unmarshals the whole ssh.Signature wire
	// form, not just its Blob — proof must match identity.Sign's encoding.
	proof := ssh.Marshal(sig)

	capabilities := make([]map[string]string, 0, len(capNames))
	for _, name := range capNames {
		capabilities = append(capabilities, map[string]string{"name": name})
	}

	req := map[string]any{
		"agentId":      agentID,
		"publicKey":    base64.StdEncoding.EncodeToString(pubBytes),
		"proof":        base64.StdEncoding.EncodeToString(proof),
		"agentType":    agentType,
		"capabilities": capabilities,
	}

	resp, err := c.do(http.MethodPost, "/v1/agents", req)
	if err != nil {
		return err
	}
	var out map[string]string
	if err := c.decode(resp, &out); err != nil {
		return err
	}
	color.Green("registered %s (did: %s)\n", out["agentId"], out["did"])
	return nil
}

// didFromWireKey mirrors identity.DidFromPublicKey without importing the
// server module: did:fabric:<sha256 of the SSH wire-format public key>.
func didFromWireKey(wireKey []byte) string {
	sum := sha256.Sum256(wireKey)
	return "did:fabric:" + hex.EncodeToString(sum[:])
}

func cmdList(c *client, args []string) error {
	path := "/v1/agents"
	var query []string
	for _, a := range args {
		if v, ok := flagValue(a, "--capability="); ok {
			query = append(query, "capability="+v)
		}
		if v, ok := flagValue(a, "--org="); ok {
			query = append(query, "organizationId="+v)
		}
	}
	if len(query) > 0 {
		path += "?" + strings.Join(query, "&")
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var agents []agentRow
	if err := c.decode(resp, &agents); err != nil {
		return err
	}
	printAgentTable(agents)
	return nil
}

func cmdFind(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: find <query> [--limit=N] [--min-score=F] [--as=agentId]")
	}
	query := args[0]
	path := "/v1/agents?q=" + url.QueryEscape(query)
	for _, a := range args[1:] {
		if v, ok := flagValue(a, "--limit="); ok {
			path += "&limit=" + url.QueryEscape(v)
		}
		if v, ok := flagValue(a, "--min-score="); ok {
			path += "&minScore=" + url.QueryEscape(v)
		}
		if v, ok := flagValue(a, "--as="); ok {
			// requesterId: exclude this agent from its own results and skip
			// candidates it recently timed out waiting on via SendAndWait.
			path += "&requesterId=" + url.QueryEscape(v)
		}
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var agents []agentRow
	if err := c.decode(resp, &agents); err != nil {
		return err
	}
	printAgentTable(agents)
	return nil
}

type agentRow struct {
	AgentID          string   `json:"agentId"`
	AgentType        string   `json:"agentType"`
	InteractionModes []string `json:"interactionModes"`
	OrganizationID   string   `json:"organizationId,omitempty"`
	Score            float64  `json:"score,omitempty"`
}

func printAgentTable(agents []agentRow) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  AGENT ID\tTYPE\tMODES\tORG\tSCORE")
	fmt.Fprintln(w, "  --------\t----\t-----\t---\t-----")
	for _, a := range agents {
		score := ""
		if a.Score > 0 {
			score = fmt.Sprintf("%.3f", a.Score)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", a.AgentID, a.AgentType, strings.Join(a.InteractionModes, ","), a.OrganizationID, score)
	}
	w.Flush()
}

func cmdSend(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: send <message.json>")
	}
	msg, err := readJSONFile(args[0])
	if err != nil {
		return err
	}

	resp, err := c.do(http.MethodPost, "/v1/messages", msg)
	if err != nil {
		return err
	}
	var out map[string]string
	if err := c.decode(resp, &out); err != nil {
		return err
	}
	color.Green("routed message %s\n", out["id"])
	return nil
}

func cmdWait(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: wait <message.json> [--timeout=5s]")
	}
	msg, err := readJSONFile(args[0])
	if err != nil {
		return err
	}

	timeout := 30 * time.Second
	for _, a := range args[1:] {
		if v, ok := flagValue(a, "--timeout="); ok {
			if d, err := time.ParseDuration(v); err == nil {
				timeout = d
			}
		}
	}

	body := map[string]any{"message": msg, "timeoutMs": timeout.Milliseconds()}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/v1/requests", jsonReader(body))
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

	return streamSSE(resp.Body)
}

// streamSSE prints each "event: ...\ndata: ...\n\n" frame as it arrives,
// colorized by event type, mirroring fabricctl's single-shot use of the
// same SSE framing the admin API streams for POST /v1/requests.
func streamSSE(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "response":
				color.Green("response: %s\n", data)
			case "timeout":
				color.Yellow("timeout: %s\n", data)
			default:
				color.Red("error: %s\n", data)
			}
		}
	}
	return scanner.Err()
}

func readJSONFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return v, nil
}

func jsonReader(v any) io.Reader {
	payload, _ := json.Marshal(v)
	return bytes.NewReader(payload)
}

func flagValue(arg, prefix string) (string, bool) {
	if strings.HasPrefix(arg, prefix) {
		return strings.TrimPrefix(arg, prefix), true
	}
	return "", false
}
