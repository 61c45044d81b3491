package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crmoreira/beacon/internal/config"
	"github.com/crmoreira/beacon/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	addrFlag := flag.String("addr", "", "daemon api address (overrides config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newClient(*addrFlag)

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: beaconctl login <user-id> [display-name]")
			os.Exit(1)
		}
		displayName := ""
		if len(args) > 2 {
			displayName = strings.Join(args[2:], " ")
		}
		cmdLogin(c, args[1], displayName)
	case "logout":
		cmdLogout(c)
	case "chats":
		cmdChats(c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: beaconctl messages <peer> [limit]")
			os.Exit(1)
		}
		limit := 50
		if len(args) > 2 {
			if n, err := strconv.Atoi(args[2]); err == nil {
				limit = n
			}
		}
		cmdMessages(c, args[1], limit, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: beaconctl send <peer> <message>")
			os.Exit(1)
		}
		cmdSend(c, args[1], strings.Join(args[2:], " "))
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: beaconctl read <peer>")
			os.Exit(1)
		}
		cmdRead(c, args[1])
	case "groups":
		if len(args) >= 3 && args[1] == "create" {
			cmdGroupCreate(c, strings.Join(args[2:], " "))
		} else if len(args) >= 3 && args[1] == "join" {
			cmdGroupJoin(c, args[2])
		} else {
			cmdGroups(c, *jsonFlag)
		}
	case "presence":
		cmdPresence(c, *jsonFlag)
	case "typing":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: beaconctl typing <peer|clear>")
			os.Exit(1)
		}
		peer := args[1]
		if peer == "clear" {
			peer = ""
		}
		cmdTyping(c, peer)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: beaconctl [--session <name>] [--addr <host:port>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show daemon status")
	fmt.Fprintln(os.Stderr, "  login <user-id> [name]     Sign in")
	fmt.Fprintln(os.Stderr, "  logout                     Sign out")
	fmt.Fprintln(os.Stderr, "  chats                      List chats with unread counts")
	fmt.Fprintln(os.Stderr, "  messages <peer> [limit]    Show a conversation")
	fmt.Fprintln(os.Stderr, "  send <peer> <message>      Send a direct message")
	fmt.Fprintln(os.Stderr, "  read <peer>                Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  groups                     List groups")
	fmt.Fprintln(os.Stderr, "  groups create <name>       Create a group")
	fmt.Fprintln(os.Stderr, "  groups join <id>           Join a group")
	fmt.Fprintln(os.Stderr, "  presence                   Show peer presence")
	fmt.Fprintln(os.Stderr, "  typing <peer|clear>        Announce or clear typing")
}

// client is a thin HTTP wrapper over the daemon's loopback API.
type client struct {
	base string
	http *http.Client
}

func newClient(addrOverride string) *client {
	addr := addrOverride
	if addr == "" {
		if cfg, err := config.Load(session.ConfigPath()); err == nil {
			addr = cfg.Daemon.Addr()
		} else {
			addr = config.DefaultListenAddr
		}
	}
	return &client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(c *client, jsonOut bool) {
	var resp struct {
		State       string `json:"state"`
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
	}
	if err := c.do("GET", "/v1/status", nil, &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("State: %s\n", resp.State)
	if resp.UserID != "" {
		fmt.Printf("User:  %s (%s)\n", resp.UserID, resp.DisplayName)
	} else {
		fmt.Println("User:  not logged in")
	}
}

func cmdLogin(c *client, userID, displayName string) {
	body := map[string]string{"user_id": userID, "display_name": displayName}
	if err := c.do("POST", "/v1/auth/login", body, nil); err != nil {
		fail(err)
	}
	fmt.Printf("Logged in as %s\n", userID)
}

func cmdLogout(c *client) {
	if err := c.do("POST", "/v1/auth/logout", nil, nil); err != nil {
		fail(err)
	}
	fmt.Println("Logged out")
}

func cmdChats(c *client, jsonOut bool) {
	var resp struct {
		Chats []struct {
			PeerID      string `json:"peer_id"`
			UnreadCount int    `json:"unread_count"`
			LastMessage struct {
				Body      string `json:"body"`
				CreatedAt int64  `json:"created_at"`
			} `json:"last_message"`
		} `json:"chats"`
		TotalUnread int `json:"total_unread"`
	}
	if err := c.do("GET", "/v1/chats", nil, &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Chats) == 0 {
		fmt.Println("No chats")
		return
	}
	for _, ch := range resp.Chats {
		marker := " "
		if ch.UnreadCount > 0 {
			marker = fmt.Sprintf("(%d)", ch.UnreadCount)
		}
		ts := time.UnixMilli(ch.LastMessage.CreatedAt).Format("Jan 02 15:04")
		fmt.Printf("%-20s %-4s %s  %s\n", ch.PeerID, marker, ts, ch.LastMessage.Body)
	}
	fmt.Printf("\n%d unread\n", resp.TotalUnread)
}

func cmdMessages(c *client, peer string, limit int, jsonOut bool) {
	var resp struct {
		Messages []struct {
			SenderID  string `json:"sender_id"`
			Body      string `json:"body"`
			CreatedAt int64  `json:"created_at"`
		} `json:"messages"`
	}
	path := fmt.Sprintf("/v1/chats/%s/messages?limit=%d", peer, limit)
	if err := c.do("GET", path, nil, &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	// Newest first on the wire; print oldest first for reading.
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		ts := time.UnixMilli(m.CreatedAt).Format("15:04")
		fmt.Printf("[%s] %s: %s\n", ts, m.SenderID, m.Body)
	}
}

func cmdSend(c *client, peer, body string) {
	var resp struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := c.do("POST", "/v1/chats/"+peer+"/messages", map[string]string{"body": body}, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("Queued %s\n", resp.ClientMsgID)
}

func cmdRead(c *client, peer string) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	if err := c.do("POST", "/v1/chats/"+peer+"/read", nil, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("Marked %d messages read\n", resp.Marked)
}

func cmdGroups(c *client, jsonOut bool) {
	var resp struct {
		Groups []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			MemberCount int    `json:"member_count"`
		} `json:"groups"`
	}
	if err := c.do("GET", "/v1/groups", nil, &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Groups) == 0 {
		fmt.Println("No groups")
		return
	}
	for _, g := range resp.Groups {
		fmt.Printf("%-36s %-24s %d members\n", g.ID, g.Name, g.MemberCount)
	}
}

func cmdGroupCreate(c *client, name string) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do("POST", "/v1/groups", map[string]string{"name": name}, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("Created group %s\n", resp.ID)
}

func cmdGroupJoin(c *client, groupID string) {
	if err := c.do("POST", "/v1/groups/"+groupID+"/members", nil, nil); err != nil {
		fail(err)
	}
	fmt.Println("Joined")
}

func cmdPresence(c *client, jsonOut bool) {
	var resp struct {
		Presence []struct {
			UserID     string `json:"user_id"`
			LastSeenAt int64  `json:"last_seen_at"`
			TypingTo   string `json:"typing_to"`
			Stale      bool   `json:"stale"`
		} `json:"presence"`
	}
	if err := c.do("GET", "/v1/presence", nil, &resp); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Presence) == 0 {
		fmt.Println("No peers online")
		return
	}
	for _, p := range resp.Presence {
		state := "online"
		if p.Stale {
			state = "stale"
		}
		ts := time.UnixMilli(p.LastSeenAt).Format("15:04:05")
		line := fmt.Sprintf("%-20s %-7s last seen %s", p.UserID, state, ts)
		if p.TypingTo != "" {
			line += fmt.Sprintf("  typing to %s", p.TypingTo)
		}
		fmt.Println(line)
	}
}

func cmdTyping(c *client, peer string) {
	if err := c.do("POST", "/v1/typing", map[string]string{"peer": peer}, nil); err != nil {
		fail(err)
	}
	if peer == "" {
		fmt.Println("Typing cleared")
	} else {
		fmt.Printf("Typing to %s\n", peer)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
