// Package testinfra runs end-to-end tests against a running relaybridge
// connected to a real Synapse and Mattermost, with two rules relaying one
// Mattermost channel and one Matrix room in both directions.
//
// The tests post as ordinary users on each side and watch the other side.
// They are skipped unless the environment describes the stack:
//
//	SYNAPSE_URL, MATRIX_USER_TOKEN, MATRIX_ROOM_ID
//	MM_URL, MM_USER_TOKEN, MM_CHANNEL_ID
//	RELAY_ADMIN_URL, MM_BOT_USER_ID (optional, for correlation lookups)
package testinfra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"
)

const relayTimeout = 30 * time.Second

var (
	synapseURL      string
	matrixToken     string
	matrixRoomID    string
	mmURL           string
	mmToken         string
	mmChannelID     string
	relayAdminURL   string
	mmBotUserID     string
	pollingInterval = 2 * time.Second
)

func TestMain(m *testing.M) {
	synapseURL = envOr("SYNAPSE_URL", "http://localhost:18008")
	mmURL = envOr("MM_URL", "http://localhost:18065")
	relayAdminURL = envOr("RELAY_ADMIN_URL", "http://localhost:29320")
	matrixToken = os.Getenv("MATRIX_USER_TOKEN")
	matrixRoomID = os.Getenv("MATRIX_ROOM_ID")
	mmToken = os.Getenv("MM_USER_TOKEN")
	mmChannelID = os.Getenv("MM_CHANNEL_ID")
	mmBotUserID = os.Getenv("MM_BOT_USER_ID")

	if matrixToken == "" || matrixRoomID == "" || mmToken == "" || mmChannelID == "" {
		fmt.Println("SKIP: MATRIX_USER_TOKEN, MATRIX_ROOM_ID, MM_USER_TOKEN and MM_CHANNEL_ID required")
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func doJSON(t testing.TB, method, url string, body any, token string) (int, map[string]any) {
	t.Helper()
	code, raw := doRaw(t, method, url, body, token)
	var result map[string]any
	_ = json.Unmarshal(raw, &result)
	return code, result
}

func doRaw(t testing.TB, method, url string, body any, token string) (int, []byte) {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw
}

func marker(name string) string {
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

// Matrix helpers

func sendMatrix(t *testing.T, content map[string]any) string {
	t.Helper()
	txnID := fmt.Sprintf("e2e-%d", time.Now().UnixNano())
	code, resp := doJSON(t, http.MethodPut,
		fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s", synapseURL, url.PathEscape(matrixRoomID), txnID),
		content, matrixToken)
	if code != http.StatusOK {
		t.Fatalf("Matrix send: %d %v", code, resp)
	}
	return resp["event_id"].(string)
}

func matrixMessages(t *testing.T) []map[string]any {
	t.Helper()
	code, resp := doJSON(t, http.MethodGet,
		fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/messages?dir=b&limit=30", synapseURL, url.PathEscape(matrixRoomID)),
		nil, matrixToken)
	if code != http.StatusOK {
		t.Fatalf("Matrix messages: %d %v", code, resp)
	}
	chunk, _ := resp["chunk"].([]any)
	var out []map[string]any
	for _, c := range chunk {
		if m, ok := c.(map[string]any); ok && m["type"] == "m.room.message" {
			out = append(out, m)
		}
	}
	return out
}

func matrixBody(m map[string]any) string {
	content, _ := m["content"].(map[string]any)
	body, _ := content["body"].(string)
	return body
}

func matrixReplyTo(m map[string]any) string {
	content, _ := m["content"].(map[string]any)
	rel, _ := content["m.relates_to"].(map[string]any)
	reply, _ := rel["m.in_reply_to"].(map[string]any)
	eventID, _ := reply["event_id"].(string)
	return eventID
}

func pollMatrix(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(relayTimeout)
	for time.Now().Before(deadline) {
		for _, m := range matrixMessages(t) {
			if match(m) {
				return m
			}
		}
		time.Sleep(pollingInterval)
	}
	t.Fatalf("message not found in Matrix room %s within %v", matrixRoomID, relayTimeout)
	return nil
}

// Mattermost helpers

func postMM(t *testing.T, message, rootID string) string {
	t.Helper()
	body := map[string]string{"channel_id": mmChannelID, "message": message, "root_id": rootID}
	code, resp := doJSON(t, http.MethodPost, mmURL+"/api/v4/posts", body, mmToken)
	if code != http.StatusCreated {
		t.Fatalf("MM post: %d %v", code, resp)
	}
	return resp["id"].(string)
}

func mmPosts(t *testing.T) []map[string]any {
	t.Helper()
	code, resp := doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v4/channels/%s/posts", mmURL, mmChannelID), nil, mmToken)
	if code != http.StatusOK {
		t.Fatalf("MM posts: %d %v", code, resp)
	}
	order, _ := resp["order"].([]any)
	postsMap, _ := resp["posts"].(map[string]any)
	var posts []map[string]any
	for _, id := range order {
		idStr, _ := id.(string)
		if p, ok := postsMap[idStr].(map[string]any); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

func pollMM(t *testing.T, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(relayTimeout)
	for time.Now().Before(deadline) {
		for _, p := range mmPosts(t) {
			if match(p) {
				return p
			}
		}
		time.Sleep(pollingInterval)
	}
	t.Fatalf("message not found in MM channel %s within %v", mmChannelID, relayTimeout)
	return nil
}

func mmMessageContains(s string) func(map[string]any) bool {
	return func(p map[string]any) bool {
		msg, _ := p["message"].(string)
		return strings.Contains(msg, s)
	}
}

// Health

func TestSynapseHealthy(t *testing.T) {
	if code, _ := doRaw(t, http.MethodGet, synapseURL+"/_matrix/client/versions", nil, ""); code != http.StatusOK {
		t.Fatalf("Synapse versions: %d", code)
	}
}

func TestMattermostHealthy(t *testing.T) {
	if code, _ := doRaw(t, http.MethodGet, mmURL+"/api/v4/system/ping", nil, ""); code != http.StatusOK {
		t.Fatalf("Mattermost ping: %d", code)
	}
}

func TestAdminAPI(t *testing.T) {
	code, resp := doJSON(t, http.MethodGet, relayAdminURL+"/healthz", nil, "")
	if code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("healthz: %d %v", code, resp)
	}
	code, raw := doRaw(t, http.MethodGet, relayAdminURL+"/metrics", nil, "")
	if code != http.StatusOK || !strings.Contains(string(raw), "relaybridge_relay_events_total") {
		t.Errorf("metrics: %d, relay counters missing", code)
	}
	if code, _ := doRaw(t, http.MethodGet, relayAdminURL+"/api/correlations", nil, ""); code != http.StatusBadRequest {
		t.Errorf("correlations without parameters: got %d, want 400", code)
	}
}

// Relaying

func TestMatrixToMattermost(t *testing.T) {
	m := marker("m2mm")
	sendMatrix(t, map[string]any{"msgtype": "m.text", "body": "hello " + m})
	pollMM(t, mmMessageContains(m))
}

func TestMattermostToMatrix(t *testing.T) {
	m := marker("mm2m")
	postMM(t, "hello "+m, "")
	pollMatrix(t, func(evt map[string]any) bool { return strings.Contains(matrixBody(evt), m) })
}

func TestMattermostThreadBecomesMatrixReply(t *testing.T) {
	root := marker("mmroot")
	rootID := postMM(t, root, "")
	copied := pollMatrix(t, func(evt map[string]any) bool { return strings.Contains(matrixBody(evt), root) })

	reply := marker("mmreply")
	postMM(t, reply, rootID)
	got := pollMatrix(t, func(evt map[string]any) bool { return strings.Contains(matrixBody(evt), reply) })
	if want, _ := copied["event_id"].(string); matrixReplyTo(got) != want {
		t.Errorf("reply relation: got %q, want %q", matrixReplyTo(got), want)
	}
}

func TestMatrixReplyBecomesMattermostThread(t *testing.T) {
	root := marker("mxroot")
	rootEvent := sendMatrix(t, map[string]any{"msgtype": "m.text", "body": root})
	copied := pollMM(t, mmMessageContains(root))

	reply := marker("mxreply")
	sendMatrix(t, map[string]any{
		"msgtype":      "m.text",
		"body":         reply,
		"m.relates_to": map[string]any{"m.in_reply_to": map[string]string{"event_id": rootEvent}},
	})
	got := pollMM(t, mmMessageContains(reply))
	if got["root_id"] != copied["id"] {
		t.Errorf("root_id: got %v, want %v", got["root_id"], copied["id"])
	}
}

func TestNoEcho(t *testing.T) {
	m := marker("echo")
	postMM(t, m, "")
	pollMatrix(t, func(evt map[string]any) bool { return strings.Contains(matrixBody(evt), m) })

	// Give a looping relay time to send the copy back.
	time.Sleep(2 * pollingInterval)
	count := 0
	for _, p := range mmPosts(t) {
		if mmMessageContains(m)(p) {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d Mattermost posts with the marker, want 1", count)
	}
}

func TestCorrelationLookup(t *testing.T) {
	if mmBotUserID == "" {
		t.Skip("MM_BOT_USER_ID not set")
	}
	m := marker("corr")
	postID := postMM(t, m, "")
	copied := pollMatrix(t, func(evt map[string]any) bool { return strings.Contains(matrixBody(evt), m) })

	q := url.Values{
		"direction":  {"source"},
		"message_id": {postID},
		"bot":        {"mattermost:" + mmBotUserID},
		"channel_id": {mmChannelID},
	}
	code, raw := doRaw(t, http.MethodGet, relayAdminURL+"/api/correlations?"+q.Encode(), nil, "")
	if code != http.StatusOK {
		t.Fatalf("correlations: %d %s", code, raw)
	}
	var records []map[string]any
	if err := json.Unmarshal(raw, &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) == 0 || records[0]["toMessageId"] != copied["event_id"] {
		t.Errorf("records: got %v, want toMessageId %v", records, copied["event_id"])
	}
}
