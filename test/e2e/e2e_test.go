//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/auth"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/config"
	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// The suite drives a running gateway end to end. The test itself serves
// the remote standup service on UPSTREAM_STUB_ADDR (default :9097), so run
// the gateway with STANDUP_API_URL=http://localhost:9097 and the same
// JWT_SECRET as the test environment.
const (
	defaultBaseURL  = "http://localhost:8080"
	defaultStubAddr = ":9097"
	participantID   = 4242
	operatorID      = 7
	standupID       = "e2e-standup"
)

var (
	baseURL          string
	participantToken string
	operatorToken    string
	sessionID        string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	stubAddr := os.Getenv("UPSTREAM_STUB_ADDR")
	if stubAddr == "" {
		stubAddr = defaultStubAddr
	}

	// Serve the remote standup service ourselves so the flow is
	// deterministic: two questions, a transcript per turn, a server summary.
	go func() {
		if err := http.ListenAndServe(stubAddr, upstreamStub()); err != nil {
			fmt.Printf("upstream stub: %v\n", err)
			os.Exit(1)
		}
	}()

	// Tokens are minted with the gateway's shared secret; in production
	// they come from the identity service.
	if err := mintTokens(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func mintTokens() error {
	v := auth.NewValidator(config.Load())
	var err error
	if participantToken, err = v.GenerateToken(auth.TokenTypeParticipant, participantID); err != nil {
		return fmt.Errorf("mint participant token: %w", err)
	}
	if operatorToken, err = v.GenerateToken(auth.TokenTypeOperator, operatorID); err != nil {
		return fmt.Errorf("mint operator token: %w", err)
	}
	return nil
}

func upstreamStub() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/standup/sessions", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id": "up-e2e-1",
			"questions": []map[string]interface{}{
				{"id": "q-yesterday", "prompt": "What did you do yesterday?"},
				{"id": "q-today", "prompt": "What will you do today?"},
			},
			"question_limit_seconds": 30,
		})
	})
	mux.HandleFunc("POST /v1/standup/sessions/up-e2e-1/turns", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Ordinal int `json:"ordinal"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ordinal":    body.Ordinal,
			"transcript": "worked on the release",
		})
	})
	mux.HandleFunc("GET /v1/standup/sessions/up-e2e-1/summary", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"session_id":      "up-e2e-1",
			"completion_rate": 0.5,
			"turns": []map[string]interface{}{
				{"ordinal": 0, "question_id": "q-yesterday", "outcome": "answered"},
				{"ordinal": 1, "question_id": "q-today", "outcome": "skipped"},
			},
		})
	})
	return mux
}

func TestStandupFlow(t *testing.T) {
	// Step 1: open a session slot
	t.Run("CreateSession", func(t *testing.T) {
		resp, err := post("/api/v1/standup/sessions", map[string]string{"standup_id": standupID}, participantToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Session model.Session `json:"session"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		sessionID = body.Data.Session.ID.String()
		if sessionID == "" || strings.HasPrefix(sessionID, "00000000") {
			t.Fatal("session ID missing")
		}
		t.Logf("Session created: %s", sessionID)
	})

	// Step 2: a second slot for the same participant must be refused
	t.Run("DuplicateSessionRejected", func(t *testing.T) {
		resp, err := post("/api/v1/standup/sessions", map[string]string{"standup_id": standupID}, participantToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusConflict {
			t.Errorf("Expected 409 Conflict, got %d. Body: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 3: snapshot is readable before the device attaches
	t.Run("GetSession", func(t *testing.T) {
		resp, err := get("/api/v1/standup/sessions/"+sessionID, participantToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 4: attach the device stream and run the whole session
	t.Run("Stream", func(t *testing.T) {
		wsURL := strings.Replace(baseURL, "http", "ws", 1) +
			"/ws/v1/standup/sessions/" + sessionID + "/stream?token=" + url.QueryEscape(participantToken)
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		// Keep the proctoring policy quiet: one visible face.
		send(t, conn, map[string]interface{}{"action": "proctor", "face_count": 1, "visible": true})

		deadline := time.Now().Add(30 * time.Second)
		answered := false
		for time.Now().Before(deadline) {
			conn.SetReadDeadline(time.Now().Add(10 * time.Second))
			var msg map[string]interface{}
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("read: %v", err)
			}
			switch msg["event"] {
			case "prompt":
				ordinal := int(msg["ordinal"].(float64))
				send(t, conn, map[string]interface{}{"action": "playback_done", "ordinal": ordinal})
				t.Logf("Prompt %d acknowledged", ordinal)
			case "capture":
				if msg["active"] != true {
					continue
				}
				if !answered {
					// First question: speak, then go quiet so the
					// silence window seals the answer.
					pcm := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x00, 0x40}, 160))
					for i := 0; i < 5; i++ {
						send(t, conn, map[string]interface{}{"action": "audio", "seq": i, "data": pcm, "energy": 0.8})
						time.Sleep(50 * time.Millisecond)
					}
					answered = true
				} else {
					send(t, conn, map[string]interface{}{"action": "skip"})
				}
			case "turn_sealed":
				t.Logf("Turn sealed: ordinal=%v outcome=%v", msg["ordinal"], msg["outcome"])
			case "terminated":
				if msg["reason"] != "completed" {
					t.Fatalf("unexpected termination reason: %v", msg["reason"])
				}
				report, ok := msg["report"].(map[string]interface{})
				if !ok {
					t.Fatal("terminated event missing report")
				}
				if report["source"] != "server" {
					t.Errorf("summary source = %v, want server", report["source"])
				}
				t.Logf("Session completed with server summary")
				return
			}
		}
		t.Fatal("session did not terminate in time")
	})

	// Step 5: the archived summary is queryable after termination
	t.Run("GetSummary", func(t *testing.T) {
		var lastStatus int
		for i := 0; i < 20; i++ {
			resp, err := get("/api/v1/standup/sessions/"+sessionID+"/summary", participantToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			lastStatus = resp.StatusCode
			if resp.StatusCode == http.StatusOK {
				var body struct {
					Data struct {
						Summary model.SummaryReport `json:"summary"`
					} `json:"data"`
				}
				decodeJSON(t, resp, &body)
				resp.Body.Close()
				if body.Data.Summary.SessionID == "" {
					t.Fatal("summary missing session id")
				}
				return
			}
			resp.Body.Close()
			// Archival runs in the finalize pipeline; give it a moment.
			time.Sleep(250 * time.Millisecond)
		}
		t.Fatalf("summary never became available, last status %d", lastStatus)
	})

	// Step 6: operator surface lists the session; participants are kept out
	t.Run("OperatorListSessions", func(t *testing.T) {
		resp, err := get("/api/v1/operator/standup/sessions", operatorToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Sessions []struct {
					ID string `json:"id"`
				} `json:"sessions"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		found := false
		for _, s := range body.Data.Sessions {
			if s.ID == sessionID {
				found = true
				break
			}
		}
		if !found {
			t.Error("archived session not listed on the operator surface")
		}
	})

	t.Run("ParticipantCannotUseOperatorRoutes", func(t *testing.T) {
		resp, err := get("/api/v1/operator/standup/sessions", participantToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("Expected 403/401, got %d", resp.StatusCode)
		}
	})
}

// Helpers

func send(t *testing.T, conn *websocket.Conn, payload map[string]interface{}) {
	t.Helper()
	if err := conn.WriteJSON(payload); err != nil {
		t.Fatalf("write %v: %v", payload["action"], err)
	}
}

func post(path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}
	req, err := http.NewRequest("POST", baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func get(path string, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
